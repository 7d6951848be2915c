package backend_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/backend/backendtest"
)

func newTestAPI(t *testing.T) (*backend.API, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(backendtest.SampleClients()...)
	t.Cleanup(srv.Close)
	return backend.New(srv.Config()), srv
}

func TestSearchClients(t *testing.T) {
	api, _ := newTestAPI(t)

	tests := []struct {
		name  string
		query string
		want  []int
	}{
		{"by name substring", "an", []int{1, 4}},
		{"case insensitive", "CARLA", []int{3}},
		{"by cpf", "987.654", []int{2}},
		{"by client number", "CLI-0003", []int{3}},
		{"by email", "mendes.dev", []int{3}},
		{"no match", "zzz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := api.SearchClients(context.Background(), tt.query)
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, len(tt.want), resp.Count)

			var ids []int
			for _, c := range resp.Clients {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSearchClients_TooShort(t *testing.T) {
	api, srv := newTestAPI(t)

	for _, q := range []string{"", "a", "  b  "} {
		_, err := api.SearchClients(context.Background(), q)
		assert.ErrorIs(t, err, backend.ErrQueryTooShort, "query %q", q)
	}
	assert.Empty(t, srv.Requests(), "short queries must not reach the backend")
}

func TestSearchClients_ServerError(t *testing.T) {
	api, srv := newTestAPI(t)
	srv.FailWith("boom", http.StatusInternalServerError)

	_, err := api.SearchClients(context.Background(), "boom")
	require.Error(t, err)

	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "falha simulada")
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestSearchClients_ContextCanceled(t *testing.T) {
	api, srv := newTestAPI(t)
	srv.Delay("slow", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := api.SearchClients(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestHeaders(t *testing.T) {
	api, srv := newTestAPI(t)

	_, err := api.SearchClients(context.Background(), "ana")
	require.NoError(t, err)
	_, err = api.SearchClients(context.Background(), "bruno")
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "triage-test/1.0", reqs[0].UserAgent)
	assert.NotEmpty(t, reqs[0].RequestID)
	assert.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
	assert.Equal(t, "q=ana", reqs[0].Query)
}

func TestGetClient(t *testing.T) {
	api, _ := newTestAPI(t)

	c, err := api.GetClient(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Ana Beatriz Souza", c.Name)
	assert.Equal(t, "CDB, Tesouro Selic", c.Assets())
	assert.Equal(t, time.Date(1985, 3, 14, 0, 0, 0, 0, time.UTC), c.Birth())

	_, err = api.GetClient(context.Background(), 999)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Cliente não encontrado", apiErr.Message)
}

func TestListClients(t *testing.T) {
	api, srv := newTestAPI(t)

	resp, err := api.ListClients(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, resp.Clients, 2)

	resp, err = api.ListClients(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, resp.Clients, 4)

	_, err = api.ListClients(context.Background(), 500)
	require.NoError(t, err)

	reqs := srv.Requests()
	assert.Equal(t, "limit=2", reqs[0].Query)
	assert.Equal(t, "limit=50", reqs[1].Query)
	assert.Equal(t, "limit=100", reqs[2].Query)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, backend.ClampLimit(-1))
	assert.Equal(t, 50, backend.ClampLimit(0))
	assert.Equal(t, 1, backend.ClampLimit(1))
	assert.Equal(t, 100, backend.ClampLimit(100))
	assert.Equal(t, 100, backend.ClampLimit(101))
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	assert.NoError(t, api.Health(context.Background()))
}

func TestClassifyText(t *testing.T) {
	api, srv := newTestAPI(t)

	res, err := api.Classify(context.Background(), backend.ClassifyRequest{Text: "  Preciso do meu extrato.  "})
	require.NoError(t, err)
	assert.True(t, res.Productive())
	assert.NotEmpty(t, res.SuggestedReply)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Preciso do meu extrato.", reqs[0].Text)
	assert.Empty(t, reqs[0].FileName)
}

func TestClassifyTextAndFile(t *testing.T) {
	api, srv := newTestAPI(t)
	srv.SetVerdict(backend.Classification{Category: backend.CategoryUnproductive, Reason: "Felicitações.", SuggestedReply: "Obrigado!"})

	res, err := api.Classify(context.Background(), backend.ClassifyRequest{
		Text:     "ignored by the backend",
		FileName: "/tmp/inbox/feliz-natal.txt",
		File:     []byte("Feliz natal!"),
	})
	require.NoError(t, err)
	assert.False(t, res.Productive())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "feliz-natal.txt", reqs[0].FileName)
	assert.Equal(t, "Feliz natal!", string(reqs[0].File))
	assert.Equal(t, "ignored by the backend", reqs[0].Text)
}

func TestValidateClassify(t *testing.T) {
	tests := []struct {
		name string
		req  backend.ClassifyRequest
		want error
	}{
		{"nothing", backend.ClassifyRequest{}, backend.ErrEmptyInput},
		{"blank text", backend.ClassifyRequest{Text: " \n\t"}, backend.ErrEmptyInput},
		{"empty file", backend.ClassifyRequest{FileName: "a.txt", File: []byte{}}, backend.ErrEmptyFile},
		{"empty file with text", backend.ClassifyRequest{Text: "hi", FileName: "a.txt"}, backend.ErrEmptyFile},
		{"unsupported", backend.ClassifyRequest{FileName: "a.docx", File: []byte("x")}, backend.ErrUnsupportedFile},
		{"text", backend.ClassifyRequest{Text: "hi"}, nil},
		{"pdf", backend.ClassifyRequest{FileName: "A.PDF", File: []byte("%PDF")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := backend.ValidateClassify(tt.req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClassify_InvalidNeverSent(t *testing.T) {
	api, srv := newTestAPI(t)

	_, err := api.Classify(context.Background(), backend.ClassifyRequest{})
	assert.ErrorIs(t, err, backend.ErrEmptyInput)
	assert.Empty(t, srv.Requests())
}

func TestClassifyFile(t *testing.T) {
	api, srv := newTestAPI(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "mail.txt")
	require.NoError(t, os.WriteFile(path, []byte("Qual o status do meu resgate?"), 0o644))

	res, err := api.ClassifyFile(context.Background(), path, "")
	require.NoError(t, err)
	assert.True(t, res.Productive())
	assert.Equal(t, "mail.txt", srv.Requests()[0].FileName)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = api.ClassifyFile(context.Background(), empty, "")
	assert.ErrorIs(t, err, backend.ErrEmptyFile)

	doc := filepath.Join(dir, "mail.doc")
	require.NoError(t, os.WriteFile(doc, []byte("x"), 0o644))
	_, err = api.ClassifyFile(context.Background(), doc, "")
	assert.ErrorIs(t, err, backend.ErrUnsupportedFile)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	api := backend.New(srv.Config(), backend.WithLimiter(limiter))

	require.NoError(t, api.Health(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := api.Health(ctx)
	require.Error(t, err)
	assert.Len(t, srv.Requests(), 1)
}

func TestWithRequestIDs(t *testing.T) {
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	api := backend.New(srv.Config(), backend.WithRequestIDs(func() string { return "fixed-id" }))
	require.NoError(t, api.Health(context.Background()))
	assert.Equal(t, "fixed-id", srv.Requests()[0].RequestID)
}

func TestNewTrimsBaseURL(t *testing.T) {
	api := backend.New(backendtestConfig("http://localhost:8000///"))
	assert.Equal(t, "http://localhost:8000", api.BaseURL())
}

func TestAPIErrorUnwrap(t *testing.T) {
	err := error(&backend.APIError{StatusCode: 404, Message: "x"})
	assert.True(t, errors.Is(err, backend.ErrNotFound))

	err = &backend.APIError{StatusCode: 500, Message: "x"}
	assert.False(t, errors.Is(err, backend.ErrNotFound))
	assert.Equal(t, "API error (500): x", err.Error())
}
