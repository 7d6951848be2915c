package search

import "github.com/pders01/triage/internal/backend"

// Searcher defines the minimal search API used by the TUI and CLI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// ClientSource is the read side of the local client cache.
type ClientSource interface {
	AllClients() ([]*backend.Client, error)
	GetClient(id int) (*backend.Client, error)
}

// UpdateListener can be implemented by search engines that maintain
// an external index and want to be notified about cache changes.
type UpdateListener interface {
	OnClientsUpdated(clients []*backend.Client)
}

// DebugStatser provides lightweight stats for visibility/debugging.
type DebugStatser interface {
	DocCount() (int, error)
}

// Result is one ranked client hit.
type Result struct {
	Client  *backend.Client
	Score   float64
	Matches []Match
}

// Match records which field matched.
type Match struct {
	Field  string // "name", "cpf", "number", "email"
	Text   string
	Weight float64
}

// Clients strips scores from results.
func Clients(results []*Result) []*backend.Client {
	out := make([]*backend.Client, 0, len(results))
	for _, r := range results {
		if r != nil && r.Client != nil {
			out = append(out, r.Client)
		}
	}
	return out
}
