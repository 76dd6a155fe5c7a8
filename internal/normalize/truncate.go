package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/agentflow/agentflow/internal/model"
)

// Truncate caps the serialised size of a tool output. If it exceeds
// model.MaxToolOutputChars, it is replaced with a prefix plus an explicit
// truncation marker that preserves the original length.
func Truncate(v any) any {
	if v == nil {
		return nil
	}

	s, isString := v.(string)
	if !isString {
		data, err := json.Marshal(v)
		if err != nil {
			return v
		}
		s = string(data)
	}

	if len(s) <= model.MaxToolOutputChars {
		return v
	}

	prefix := s[:model.MaxToolOutputChars]
	return fmt.Sprintf("%s... [truncated, %d chars total]", prefix, len(s))
}
