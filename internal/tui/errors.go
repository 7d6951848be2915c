package tui

import (
	"errors"
	"fmt"

	"github.com/pders01/triage/internal/backend"
)

// wrapErr formats an error with a contextual prefix.
func wrapErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// classifyErrorText maps classification failures to what the status bar shows.
func classifyErrorText(err error) string {
	switch {
	case errors.Is(err, backend.ErrEmptyInput):
		return MsgNeedInput
	case errors.Is(err, backend.ErrEmptyFile):
		return MsgEmptyFile
	case errors.Is(err, backend.ErrUnsupportedFile):
		return MsgUnsupportedFile
	default:
		return MsgClassifyFailed(err)
	}
}
