package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/storage"
)

const historyLimit = 100

func (a *App) loadHistory() tea.Cmd {
	return func() tea.Msg {
		if a.store == nil {
			return historyLoadedMsg{}
		}
		records, err := a.store.RecentClassifications(historyLimit)
		if err != nil {
			return errorMsg{err: wrapErr("loading history", err)}
		}
		return historyLoadedMsg{records: records}
	}
}

// classify sends text and/or the file at path to the backend and records
// the verdict in local history. A failed history write is logged, the
// verdict is still shown.
func (a *App) classify(text, path string) tea.Cmd {
	return func() tea.Msg {
		req := backend.ClassifyRequest{Text: text}
		source := storage.SourceText
		if path != "" {
			fileReq, err := backend.FileRequest(path, text)
			if err != nil {
				return classifiedMsg{err: err}
			}
			req = fileReq
			source = storage.SourceFile
		}
		if a.api == nil {
			return classifiedMsg{err: fmt.Errorf("no backend configured")}
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.config.Backend.RequestTimeout())
		defer cancel()

		res, err := a.api.Classify(ctx, req)
		if err != nil {
			return classifiedMsg{err: err}
		}

		rec := &storage.ClassificationRecord{
			Source:         source,
			FileName:       req.FileName,
			Excerpt:        text,
			Category:       res.Category,
			Reason:         res.Reason,
			SuggestedReply: res.SuggestedReply,
			BackendURL:     a.api.BaseURL(),
		}
		if rec.Excerpt == "" && req.FileName != "" && strings.EqualFold(filepath.Ext(req.FileName), ".txt") {
			rec.Excerpt = string(req.File)
		}
		if a.store != nil {
			if err := retryOperation(func() error { return a.store.SaveClassification(rec) }); err != nil {
				log.Warnf("saving classification: %v", err)
			}
		}
		return classifiedMsg{result: res, record: rec}
	}
}

func (a *App) deleteRecord(id string) tea.Cmd {
	return func() tea.Msg {
		err := retryOperation(func() error { return a.store.DeleteClassification(id) })
		return recordDeletedMsg{err: wrapErr("deleting classification", err)}
	}
}

// refreshClient fetches the latest copy of a client from the backend.
func (a *App) refreshClient(id int) tea.Cmd {
	return func() tea.Msg {
		if a.api == nil {
			return clientLoadedMsg{err: fmt.Errorf("no backend configured")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Backend.RequestTimeout())
		defer cancel()

		c, err := a.api.GetClient(ctx, id)
		if err != nil {
			return clientLoadedMsg{err: wrapErr("loading client", err)}
		}
		if a.store != nil {
			if err := a.store.SaveClients([]*backend.Client{c}); err != nil {
				log.Warnf("caching client %d: %v", id, err)
			}
		}
		return clientLoadedMsg{client: c}
	}
}

func classificationMarkdown(res *backend.Classification, rec *storage.ClassificationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", orDash(res.Category))
	if res.Productive() {
		b.WriteString("*Needs action or a reply.*\n\n")
	} else {
		b.WriteString("*No action needed.*\n\n")
	}
	fmt.Fprintf(&b, "**Reason:** %s\n\n", orDash(res.Reason))
	b.WriteString("## Suggested reply\n\n")
	for _, line := range strings.Split(orDash(res.SuggestedReply), "\n") {
		fmt.Fprintf(&b, "> %s\n", line)
	}
	if rec != nil {
		b.WriteString("\n---\n\n")
		if rec.FileName != "" {
			fmt.Fprintf(&b, "*File:* `%s`\n\n", rec.FileName)
		}
		if rec.Excerpt != "" {
			fmt.Fprintf(&b, "*Email:* %s\n", rec.Excerpt)
		}
	}
	return b.String()
}

func clientMarkdown(c *backend.Client) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Name)
	b.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) {
		fmt.Fprintf(&b, "| %s | %s |\n", k, strings.ReplaceAll(orDash(v), "|", "\\|"))
	}
	row("CPF", c.CPF)
	row("Number", c.Number)
	row("Email", c.Email)
	row("Status", c.ContractStatus())
	row("Profile", c.InvestorProfile)
	if birth := c.Birth(); !birth.IsZero() {
		row("Birth date", birth.Format("02/01/2006"))
	} else {
		row("Birth date", c.BirthDate)
	}
	if assets := c.Assets(); assets != "" {
		fmt.Fprintf(&b, "\n## Custodied assets\n\n%s\n", assets)
	}
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}

// retryOperation retries a database operation up to 3 times with exponential backoff
func retryOperation(operation func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err
		if i < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<i))
		}
	}
	return lastErr
}
