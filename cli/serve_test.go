package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs the serve command on an ephemeral port and returns its
// base URL. The server stops when the test ends.
func startServer(t *testing.T, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	addrCh := make(chan string, 1)
	cmd := newServeCommand(&RootOptions{LogFormat: "text"}, func(addr string) { addrCh <- addr })
	cmd.SetArgs(append([]string{"--port", "0"}, args...))
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		cancel()
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return "http://" + addr
}

func TestServeJSONFile(t *testing.T) {
	path := writeSeed(t)
	base := startServer(t, path)

	resp, err := http.Get(base + "/posts/2")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":2,"title":"b"}`, string(b))

	resp, err = http.Post(base+"/posts", "application/json", strings.NewReader(`{"title":"c"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"title": "c"`)
}

func TestServeSqliteWithSeed(t *testing.T) {
	seedPath := writeSeed(t)
	dbPath := filepath.Join(t.TempDir(), "mock.db")
	base := startServer(t, "--seed", seedPath, dbPath)

	resp, err := http.Get(base + "/profile")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"name":"x"}`, string(b))
}

func TestServeRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))

	cmd := NewRootCommand()
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve", "--port", "0", path})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeNeedsDataFile(t *testing.T) {
	t.Setenv("DATA_FILE", "")
	t.Setenv("STORE_BACKEND", "")
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"serve"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
