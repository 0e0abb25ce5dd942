package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// defaultPromptDir is the subdirectory within the user's home directory.
const defaultPromptDir = ".config/sift/prompts"

// LoadPromptContent returns the template stored at configuredPath, or builtin when the path is
// empty or the file is blank. A relative path is looked up in the working directory first and
// then in ~/.config/sift/prompts/.
func LoadPromptContent(configuredPath, builtin string) (string, error) {
	if configuredPath == "" {
		return builtin, nil
	}
	candidates, err := promptCandidates(configuredPath)
	if err != nil {
		return "", err
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file '%s': %w", p, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return builtin, nil
		}
		return string(data), nil
	}
	return "", fmt.Errorf("prompt file '%s' not found (looked in %s): %w", configuredPath, strings.Join(candidates, ", "), fs.ErrNotExist)
}

func promptCandidates(configuredPath string) ([]string, error) {
	if filepath.IsAbs(configuredPath) {
		return []string{configuredPath}, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return []string{configuredPath, filepath.Join(homeDir, defaultPromptDir, configuredPath)}, nil
}
