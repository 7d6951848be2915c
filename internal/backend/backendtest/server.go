// Package backendtest provides an in-process fake of the classifier backend.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/config"
)

// Request is what the fake saw for one call.
type Request struct {
	Method    string
	Path      string
	Query     string
	RequestID string
	UserAgent string
	Text      string
	FileName  string
	File      []byte
}

// Server is a fake backend seeded with clients.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	clients  []*backend.Client
	delays   map[string]time.Duration
	failures map[string]int
	verdict  backend.Classification
	requests []Request
}

// New starts a fake backend. Close it when done.
func New(clients ...*backend.Client) *Server {
	s := &Server{
		clients:  clients,
		delays:   make(map[string]time.Duration),
		failures: make(map[string]int),
		verdict: backend.Classification{
			Category:       backend.CategoryProductive,
			Reason:         "Solicita atualização de cadastro.",
			SuggestedReply: "Olá! Recebemos sua solicitação e retornaremos em breve.",
		},
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/clients/search", s.search)
		r.Get("/clients/{id}", s.getClient)
		r.Get("/clients", s.list)
		r.Post("/classify", s.classify)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// Delay makes searches for query sleep d before answering.
func (s *Server) Delay(query string, d time.Duration) {
	s.mu.Lock()
	s.delays[query] = d
	s.mu.Unlock()
}

// FailWith makes searches for query answer with status.
func (s *Server) FailWith(query string, status int) {
	s.mu.Lock()
	s.failures[query] = status
	s.mu.Unlock()
}

// SetVerdict changes the classification returned by /api/classify.
func (s *Server) SetVerdict(c backend.Classification) {
	s.mu.Lock()
	s.verdict = c
	s.mu.Unlock()
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Config returns a backend config pointing at the fake.
func (s *Server) Config() config.BackendConfig {
	return config.BackendConfig{
		BaseURL:   s.URL,
		Timeout:   5 * time.Second,
		UserAgent: "triage-test/1.0",
	}
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			RequestID: r.Header.Get("X-Request-ID"),
			UserAgent: r.Header.Get("User-Agent"),
		}
		if r.Method == http.MethodPost {
			if err := r.ParseMultipartForm(32 << 20); err == nil {
				req.Text = r.FormValue("text")
				if f, h, err := r.FormFile("file"); err == nil {
					req.FileName = h.Filename
					req.File, _ = io.ReadAll(f)
					f.Close()
				}
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len([]rune(q)) < backend.MinQueryLength {
		writeValidation(w, "String should have at least 2 characters")
		return
	}

	s.mu.Lock()
	delay := s.delays[q]
	status := s.failures[q]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeDetail(w, status, "Erro na busca de clientes: falha simulada")
		return
	}

	hits := s.match(q)
	writeJSON(w, http.StatusOK, backend.SearchResponse{Success: true, Count: len(hits), Clients: hits})
}

func (s *Server) match(q string) []*backend.Client {
	q = strings.ToLower(q)

	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []*backend.Client
	for _, c := range s.clients {
		for _, field := range []string{c.Name, c.CPF, c.Number, c.Email} {
			if strings.Contains(strings.ToLower(field), q) {
				hits = append(hits, c)
				break
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Name < hits[j].Name })
	if len(hits) > 10 {
		hits = hits[:10]
	}
	return hits
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidation(w, "Input should be a valid integer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "client": c})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Cliente não encontrado")
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	limit := backend.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > backend.MaxListLimit {
			writeValidation(w, "Input should be between 1 and 100")
			return
		}
		limit = n
	}

	s.mu.Lock()
	clients := append([]*backend.Client(nil), s.clients...)
	s.mu.Unlock()

	if len(clients) > limit {
		clients = clients[:limit]
	}
	writeJSON(w, http.StatusOK, backend.SearchResponse{Success: true, Count: len(clients), Clients: clients})
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("text")
	f, _, fileErr := r.FormFile("file")
	if text == "" && fileErr != nil {
		writeDetail(w, http.StatusBadRequest, "Provide 'text' or 'file'.")
		return
	}
	if fileErr == nil {
		data, _ := io.ReadAll(f)
		f.Close()
		if len(data) == 0 {
			writeDetail(w, http.StatusBadRequest, "Arquivo recebido está vazio (0 bytes).")
			return
		}
	}

	s.mu.Lock()
	verdict := s.verdict
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, verdict)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"type": "value_error", "msg": msg}},
	})
}
