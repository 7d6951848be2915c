package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pders01/triage/internal/config"
	"github.com/pders01/triage/internal/debuglog"
)

const (
	// MinQueryLength mirrors the backend's min_length on /api/clients/search.
	MinQueryLength = 2

	DefaultListLimit = 50
	MaxListLimit     = 100

	requestIDHeader = "X-Request-ID"
)

var log = debuglog.Component("backend")

// API talks to the email classifier backend.
type API struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	newID      func() string
}

type Option func(*API)

// WithHTTPClient replaces the default client, whose timeout comes from config.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) {
		if c != nil {
			a.httpClient = c
		}
	}
}

func WithLimiter(l *rate.Limiter) Option {
	return func(a *API) {
		if l != nil {
			a.limiter = l
		}
	}
}

// WithRequestIDs overrides request ID generation.
func WithRequestIDs(fn func() string) Option {
	return func(a *API) {
		if fn != nil {
			a.newID = fn
		}
	}
}

func New(cfg config.BackendConfig, opts ...Option) *API {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	a := &API{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BaseURL returns the normalized backend root.
func (a *API) BaseURL() string {
	return a.baseURL
}

// Health checks GET /health.
func (a *API) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := a.getJSON(ctx, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("backend unhealthy: status %q", out.Status)
	}
	return nil
}

// SearchClients runs the backend's substring search over name, CPF,
// client number and email.
func (a *API) SearchClients(ctx context.Context, q string) (*SearchResponse, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < MinQueryLength {
		return nil, ErrQueryTooShort
	}

	var out SearchResponse
	if err := a.getJSON(ctx, "/api/clients/search", url.Values{"q": {q}}, &out); err != nil {
		return nil, fmt.Errorf("searching clients: %w", err)
	}
	return &out, nil
}

func (a *API) GetClient(ctx context.Context, id int) (*Client, error) {
	var out clientEnvelope
	if err := a.getJSON(ctx, "/api/clients/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, fmt.Errorf("fetching client %d: %w", id, err)
	}
	if out.Client == nil {
		return nil, fmt.Errorf("fetching client %d: %w", id, ErrNotFound)
	}
	return out.Client, nil
}

// ListClients fetches up to limit clients. Non-positive limits use the
// backend default; larger ones are capped.
func (a *API) ListClients(ctx context.Context, limit int) (*SearchResponse, error) {
	limit = ClampLimit(limit)

	var out SearchResponse
	if err := a.getJSON(ctx, "/api/clients", url.Values{"limit": {strconv.Itoa(limit)}}, &out); err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return &out, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// Classify posts the email as multipart form data. Text and file may both
// be present; the backend prefers the file.
func (a *API) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	if err := ValidateClassify(req); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if text := strings.TrimSpace(req.Text); text != "" {
		if err := mw.WriteField("text", text); err != nil {
			return nil, fmt.Errorf("encoding text: %w", err)
		}
	}
	if req.hasFile() {
		part, err := mw.CreateFormFile("file", filepath.Base(req.FileName))
		if err != nil {
			return nil, fmt.Errorf("encoding file: %w", err)
		}
		if _, err := part.Write(req.File); err != nil {
			return nil, fmt.Errorf("encoding file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("encoding form: %w", err)
	}

	var out Classification
	if err := a.do(ctx, http.MethodPost, "/api/classify", nil, &body, mw.FormDataContentType(), &out); err != nil {
		return nil, fmt.Errorf("classifying email: %w", err)
	}
	return &out, nil
}

// ValidateClassify applies the checks the backend would otherwise reject
// with a 400.
func ValidateClassify(req ClassifyRequest) error {
	if !req.hasFile() {
		if strings.TrimSpace(req.Text) == "" {
			return ErrEmptyInput
		}
		return nil
	}
	if len(req.File) == 0 {
		return ErrEmptyFile
	}
	if !SupportedFile(req.FileName) {
		return ErrUnsupportedFile
	}
	return nil
}

// SupportedFile reports whether name has a .txt or .pdf extension.
func SupportedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".pdf":
		return true
	default:
		return false
	}
}

func (a *API) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return a.do(ctx, http.MethodGet, path, query, nil, "", out)
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	id := a.newID()
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, id)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Debugf("%s %s id=%s", method, path, id)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, respBody, id)
		log.Warnf("%s %s failed: %v", method, path, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
