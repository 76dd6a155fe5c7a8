package config

import (
	"os"
	"path/filepath"
)

// DataPath returns the root directory for agentflow's on-disk state.
// It uses $AGENT_FLOW_PATH if set, otherwise defaults to ~/.agentflow.
func DataPath() string {
	if v := os.Getenv("AGENT_FLOW_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".agentflow")
	}
	return filepath.Join(home, ".agentflow")
}

// ConfigPath returns the path to the optional JSONC config file.
func ConfigPath() string {
	return filepath.Join(DataPath(), "config.jsonc")
}

// DotenvPath returns the path to the agentflow .env file.
func DotenvPath() string {
	return filepath.Join(DataPath(), ".env")
}
