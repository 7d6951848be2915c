package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxPathLength = 4096

// FilePathValidator sanitizes user-supplied paths.
type FilePathValidator struct {
	// AllowedBaseDirs restricts paths to these roots. Empty allows all.
	AllowedBaseDirs    []string
	AllowHomeExpansion bool
	AllowRelativePaths bool
	MaxPathLength      int
}

// NewFilePathValidator confines paths to triage's own directories and the
// temp dir.
func NewFilePathValidator() *FilePathValidator {
	homeDir, _ := os.UserHomeDir()
	return &FilePathValidator{
		AllowedBaseDirs: []string{
			filepath.Join(homeDir, ".triage"),
			filepath.Join(homeDir, ".config", "triage"),
			os.TempDir(),
		},
		AllowHomeExpansion: true,
		MaxPathLength:      maxPathLength,
	}
}

func NewPermissiveFilePathValidator() *FilePathValidator {
	return &FilePathValidator{
		AllowHomeExpansion: true,
		AllowRelativePaths: true,
		MaxPathLength:      maxPathLength,
	}
}

// ValidateAndSanitize returns a cleaned path, expanding ~/ when allowed.
func (v *FilePathValidator) ValidateAndSanitize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(path) > v.MaxPathLength {
		return "", fmt.Errorf("path too long (max %d characters)", v.MaxPathLength)
	}
	if !IsPathSafe(path) {
		return "", fmt.Errorf("path contains traversal or control characters")
	}

	switch {
	case strings.HasPrefix(path, "~/") && v.AllowHomeExpansion:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	case strings.HasPrefix(path, "~"):
		return "", fmt.Errorf("tilde expansion not allowed or invalid tilde usage")
	}

	if !v.AllowRelativePaths && !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("cannot make path absolute: %w", err)
		}
		path = abs
	}
	path = filepath.Clean(path)

	if err := v.withinBaseDirs(path); err != nil {
		return "", err
	}
	return path, nil
}

func (v *FilePathValidator) withinBaseDirs(path string) error {
	if len(v.AllowedBaseDirs) == 0 {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	for _, base := range v.AllowedBaseDirs {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBase, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("path not within allowed directories: %v", v.AllowedBaseDirs)
}

// ValidateDirectory validates path as a directory, creating it on request.
func (v *FilePathValidator) ValidateDirectory(path string, create bool) (string, error) {
	clean, err := v.ValidateAndSanitize(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(clean)
	switch {
	case os.IsNotExist(err):
		if create {
			if mkErr := os.MkdirAll(clean, 0o755); mkErr != nil {
				return "", fmt.Errorf("failed to create directory: %w", mkErr)
			}
		}
		return clean, nil
	case err != nil:
		return "", fmt.Errorf("checking directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("path exists but is not a directory: %s", clean)
	}
	return clean, nil
}

// ValidateFile validates a file path that may not exist yet.
func (v *FilePathValidator) ValidateFile(path string) (string, error) {
	clean, err := v.ValidateAndSanitize(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(clean); err == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", clean)
	}
	return clean, nil
}

// IsPathSafe rejects NUL and control bytes, parent traversal and overlong paths.
func IsPathSafe(path string) bool {
	if len(path) > maxPathLength {
		return false
	}
	for _, r := range path {
		if r < 32 && r != '\t' {
			return false
		}
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}
