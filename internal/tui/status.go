package tui

import (
	"fmt"
	"strings"
)

// Canonical short status messages used across the app.
const (
	MsgClassifying        = "Classifying…"
	MsgNeedInput          = "Enter the email text or pick a .txt/.pdf file"
	MsgEmptyFile          = "The selected file is empty (0 bytes). Save it with content and try again."
	MsgUnsupportedFile    = "Only .txt and .pdf files can be classified"
	MsgFileCleared        = "File cleared"
	MsgNothingToCopy      = "Nothing to copy"
	MsgCopied             = "Copied!"
	MsgCopyFailed         = "Could not copy. Select and copy the reply manually."
	MsgSearching          = "Searching…"
	MsgNoClients          = "No clients found"
	MsgClientSearchFailed = "Client search failed. Try again."
	MsgHistoryEmpty       = "No classifications yet"
	MsgRecordDeleted      = "Classification removed"
	MsgLoadingClient      = "Loading client…"
)

func MsgClassified(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		category = "—"
	}
	return fmt.Sprintf("Classified as %s", category)
}

func MsgClassifyFailed(err error) string {
	return fmt.Sprintf("Classification failed: %v", err)
}

func MsgClientsCount(n int) string {
	if n == 1 {
		return "1 client"
	}
	return fmt.Sprintf("%d clients", n)
}

func MsgSearchHint(minLength int) string {
	if minLength <= 1 {
		return "Type to search"
	}
	return fmt.Sprintf("Type at least %d characters to search", minLength)
}
