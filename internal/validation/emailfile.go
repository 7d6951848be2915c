package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxEmailFileSize bounds uploads to the classifier.
const MaxEmailFileSize = 10 << 20

var (
	ErrFileEmpty       = errors.New("file is empty (0 bytes)")
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileUnsupported = errors.New("unsupported file type, use .txt or .pdf")
)

// EmailFileValidator checks files picked for classification.
type EmailFileValidator struct {
	paths      *FilePathValidator
	MaxSize    int64
	Extensions []string
}

func NewEmailFileValidator() *EmailFileValidator {
	return &EmailFileValidator{
		paths:      NewPermissiveFilePathValidator(),
		MaxSize:    MaxEmailFileSize,
		Extensions: []string{".txt", ".pdf"},
	}
}

// Validate returns the cleaned path of an existing, non-empty regular file
// with an accepted extension.
// Relative paths, parent references included, resolve against the working
// directory.
func (v *EmailFileValidator) Validate(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, "~") {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	clean, err := v.paths.ValidateAndSanitize(path)
	if err != nil {
		return "", err
	}

	if !v.supported(clean) {
		return "", fmt.Errorf("%s: %w", filepath.Base(clean), ErrFileUnsupported)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", clean, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", clean)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%s: %w", filepath.Base(clean), ErrFileEmpty)
	}
	if v.MaxSize > 0 && info.Size() > v.MaxSize {
		return "", fmt.Errorf("%s is %d bytes (max %d): %w", filepath.Base(clean), info.Size(), v.MaxSize, ErrFileTooLarge)
	}
	return clean, nil
}

// ReadFile validates path and returns its contents.
func (v *EmailFileValidator) ReadFile(path string) (string, []byte, error) {
	clean, err := v.Validate(path)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", clean, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%s: %w", filepath.Base(clean), ErrFileEmpty)
	}
	return clean, data, nil
}

func (v *EmailFileValidator) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range v.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
