package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smazurov/lokmanager/internal/process"
)

// DefaultCommand is the worker command line used when none is configured.
const DefaultCommand = "python3 -m lokbot"

// Environment variables passed to every worker.
const (
	EnvProfile = "LOKMANAGER_PROFILE"
	EnvConfig  = "LOKMANAGER_CONFIG"
)

// Invocation is how one worker is launched for a profile.
type Invocation struct {
	Args       []string
	Dir        string
	ConfigPath string
	Env        []string
}

// ConfigPath returns the config file location for a profile.
func ConfigPath(dir, profile string) string {
	return filepath.Join(dir, "config_"+profile+".json")
}

// WriteConfig writes the config document the worker reads at launch and
// returns its path.
func WriteConfig(dir, profile string, doc json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}

	path := ConfigPath(dir, profile)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return "", fmt.Errorf("write worker config: %w", err)
	}
	return path, nil
}

// BuildArgs parses command and appends the token as the final argument.
func BuildArgs(command, token string) ([]string, error) {
	args, err := process.ParseCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("worker command is empty")
	}
	return append(args, token), nil
}

// Prepare writes the profile's config and builds the invocation for it.
func Prepare(command, dir, profile, token string, doc json.RawMessage) (*Invocation, error) {
	args, err := BuildArgs(command, token)
	if err != nil {
		return nil, err
	}

	path, err := WriteConfig(dir, profile, doc)
	if err != nil {
		return nil, err
	}

	return &Invocation{
		Args:       args,
		Dir:        dir,
		ConfigPath: path,
		Env: []string{
			EnvProfile + "=" + profile,
			EnvConfig + "=" + path,
		},
	}, nil
}
