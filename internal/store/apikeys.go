package store

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// APIKeyPrefix marks tokens minted for programmatic ingest (§4.7's
// "x-api-key: agentflow_*" contract) so they're visually distinct from
// session cookies.
const APIKeyPrefix = "agentflow_"

// MintAPIKey generates a new random token, stores only its sha256 hash, and
// returns the plaintext token once — it is never retrievable again.
func (s *Store) MintAPIKey(userID, label string) (token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fault("mintAPIKey: rand", err)
	}
	token = APIKeyPrefix + hex.EncodeToString(raw)

	_, err = s.db.Exec(`INSERT INTO api_keys (hash, user_id, label, created_at, revoked) VALUES (?, ?, ?, ?, 0)`,
		hashAPIKey(token), userID, label, time.Now().UnixMilli())
	if err != nil {
		return "", fault("mintAPIKey: insert", err)
	}
	return token, nil
}

// VerifyAPIKey resolves a presented token to its owning user, or
// ErrNotFound if unknown/revoked.
func (s *Store) VerifyAPIKey(token string) (userID string, err error) {
	row := s.db.QueryRow(`SELECT user_id FROM api_keys WHERE hash = ? AND revoked = 0`, hashAPIKey(token))
	switch err := row.Scan(&userID); err {
	case nil:
		return userID, nil
	case sql.ErrNoRows:
		return "", ErrNotFound
	default:
		return "", fault("verifyAPIKey", err)
	}
}

// RevokeAPIKey disables a token without deleting its audit row.
func (s *Store) RevokeAPIKey(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE api_keys SET revoked = 1 WHERE hash = ?`, hashAPIKey(token))
	if err != nil {
		return fault("revokeAPIKey", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func hashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum)
}
