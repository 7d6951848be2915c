package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/pders01/triage/internal/validation"
)

// ClassifyFile reads and validates the file at path, then classifies it
// together with optional text.
func (a *API) ClassifyFile(ctx context.Context, path, text string) (*Classification, error) {
	req, err := FileRequest(path, text)
	if err != nil {
		return nil, err
	}
	return a.Classify(ctx, req)
}

// FileRequest builds a ClassifyRequest from a file on disk.
func FileRequest(path, text string) (ClassifyRequest, error) {
	clean, data, err := validation.NewEmailFileValidator().ReadFile(path)
	switch {
	case errors.Is(err, validation.ErrFileEmpty):
		return ClassifyRequest{}, ErrEmptyFile
	case errors.Is(err, validation.ErrFileUnsupported):
		return ClassifyRequest{}, ErrUnsupportedFile
	case err != nil:
		return ClassifyRequest{}, fmt.Errorf("reading email file: %w", err)
	}
	return ClassifyRequest{Text: text, FileName: clean, File: data}, nil
}
