package storage

import (
	"time"
)

// Source tells how an email reached the classifier.
type Source string

const (
	SourceText Source = "text"
	SourceFile Source = "file"
)

// ClassificationRecord is one classified email kept in local history.
type ClassificationRecord struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Source         Source    `json:"source"`
	FileName       string    `json:"file_name,omitempty"`
	Excerpt        string    `json:"excerpt"`
	Category       string    `json:"category"`
	Reason         string    `json:"reason"`
	SuggestedReply string    `json:"suggested_reply"`
	BackendURL     string    `json:"backend_url,omitempty"`
}

// Metadata keys.
const (
	MetaLastSync    = "last_sync"
	MetaSyncBackend = "sync_backend"
)
