package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/backend/backendtest"
)

// fakeBackend points HOME at a temp dir and starts a seeded backend.
func fakeBackend(t *testing.T) *backendtest.Server {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	srv := backendtest.New(backendtest.SampleClients()...)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)

	assert.Contains(t, out, "triage dev")
	assert.Contains(t, out, "Email triage and client lookup")
	assert.Contains(t, out, "github.com/pders01/triage")
}

func TestGenerateConfigCommand(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	configFile := filepath.Join(tmpDir, ".config", "triage", "config.toml")

	out, err := run(t, "config", "generate")
	require.NoError(t, err)
	assert.Contains(t, out, configFile)

	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[backend]")
	assert.Contains(t, string(data), "[search]")

	_, err = run(t, "config", "generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, "config", "generate", "--force")
	require.NoError(t, err)
}

func TestConfigShowAppliesFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := run(t, "--backend", "localhost:9000/", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "http://localhost:9000")
	assert.NotContains(t, out, "localhost:9000/'")
}

func TestConfigShowRejectsBadBackend(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := run(t, "--backend", "ftp://example.com", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backend URL")
}

func TestSearchCommand(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--backend", srv.URL, "search", "carla")
	require.NoError(t, err)
	assert.Contains(t, out, "Carla Mendes")
	assert.Contains(t, out, "1 client(s)")
	assert.NotContains(t, out, "Bruno Almeida")

	// The hit was cached, so it is found offline too.
	out, err = run(t, "--offline", "search", "carla")
	require.NoError(t, err)
	assert.Contains(t, out, "Carla Mendes")

	out, err = run(t, "--offline", "search", "bruno")
	require.NoError(t, err)
	assert.Contains(t, out, "No clients found.")
}

func TestLogLevelLogsToStderr(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--backend", srv.URL, "--log-level", "info", "search", "carla")
	require.NoError(t, err)
	assert.Contains(t, out, "[INFO] triage dev: backend "+srv.URL)
	assert.Contains(t, out, "Carla Mendes")

	out, err = run(t, "--backend", srv.URL, "search", "carla")
	require.NoError(t, err)
	assert.NotContains(t, out, "[INFO]")
}

func TestSearchCommandJSON(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--backend", srv.URL, "search", "--json", "zzzz")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestSearchRejectsShortQuery(t *testing.T) {
	srv := fakeBackend(t)

	_, err := run(t, "--backend", srv.URL, "search", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 characters")
	assert.Empty(t, srv.Requests())
}

func TestClientCommand(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--backend", srv.URL, "client", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Carla Mendes")

	_, err = run(t, "--backend", srv.URL, "client", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client 99 not found")

	_, err = run(t, "--backend", srv.URL, "client", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid client id")
}

func TestClassifyCommand(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "--backend", srv.URL, "classify", "--text", "Preciso atualizar meu cadastro")
	require.NoError(t, err)
	assert.Contains(t, out, backend.CategoryProductive)
	assert.Contains(t, out, "Recebemos sua solicitação")

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "Preciso atualizar meu cadastro", reqs[len(reqs)-1].Text)

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, backend.CategoryProductive)
	assert.Contains(t, out, "Preciso atualizar meu cadastro")
}

func TestClassifyCommandFile(t *testing.T) {
	srv := fakeBackend(t)
	path := filepath.Join(t.TempDir(), "email.txt")
	require.NoError(t, os.WriteFile(path, []byte("Feliz natal a todos!"), 0o600))

	srv.SetVerdict(backend.Classification{
		Category:       backend.CategoryUnproductive,
		Reason:         "Mensagem de felicitação.",
		SuggestedReply: "Obrigado!",
	})

	out, err := run(t, "--backend", srv.URL, "classify", "--file", path, "--no-save")
	require.NoError(t, err)
	assert.Contains(t, out, backend.CategoryUnproductive)

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, []byte("Feliz natal a todos!"), reqs[len(reqs)-1].File)

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No classifications yet.")
}

func TestClassifyCommandValidatesInput(t *testing.T) {
	srv := fakeBackend(t)

	_, err := run(t, "--backend", srv.URL, "classify")
	assert.ErrorIs(t, err, backend.ErrEmptyInput)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = run(t, "--backend", srv.URL, "classify", "--file", empty)
	assert.ErrorIs(t, err, backend.ErrEmptyFile)

	doc := filepath.Join(t.TempDir(), "email.docx")
	require.NoError(t, os.WriteFile(doc, []byte("x"), 0o600))
	_, err = run(t, "--backend", srv.URL, "classify", "--file", doc)
	assert.ErrorIs(t, err, backend.ErrUnsupportedFile)

	assert.Empty(t, srv.Requests())
}

func TestSyncCommand(t *testing.T) {
	srv := fakeBackend(t)

	out, err := run(t, "sync", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "Cached clients: 0")
	assert.Contains(t, out, "Last sync: never")

	out, err = run(t, "--backend", srv.URL, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 4 clients")
	assert.Contains(t, out, "Cached clients: 4")

	out, err = run(t, "--offline", "clients")
	require.NoError(t, err)
	for _, name := range []string{"Ana Beatriz Souza", "Bruno Almeida", "Carla Mendes", "Anderson Lima"} {
		assert.Contains(t, out, name)
	}

	_, err = run(t, "--offline", "sync")
	require.Error(t, err)
}

func TestHistoryDelete(t *testing.T) {
	srv := fakeBackend(t)

	_, err := run(t, "--backend", srv.URL, "classify", "--text", "Qual o status do meu chamado?")
	require.NoError(t, err)

	out, err := run(t, "history", "--json")
	require.NoError(t, err)
	idx := strings.Index(out, `"id": "`)
	require.GreaterOrEqual(t, idx, 0)
	rest := out[idx+len(`"id": "`):]
	id := rest[:strings.Index(rest, `"`)]

	out, err = run(t, "history", "--delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+id)

	out, err = run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No classifications yet.")
}
