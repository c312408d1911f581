package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/json-mock-server/document"
	"github.com/stevemurr/json-mock-server/handler"
	"github.com/stevemurr/json-mock-server/store"
)

const seed = `{"posts": [{"id": 1, "title": "a"}, {"id": 2, "title": "b"}], "profile": {"name": "x"}}`

func setup(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	v, err := document.Decode([]byte(seed))
	require.NoError(t, err)
	mem := store.NewMemory(v.(map[string]any))
	reg, err := store.NewRegistry(mem)
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(reg, handler.Options{}))
	t.Cleanup(ts.Close)
	return ts, mem
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestGetDocument(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "GET", ts.URL+"/profile", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"x"}`, body)

	status, body = do(t, "GET", ts.URL+"/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{}`, body)
}

func TestGetItem(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "GET", ts.URL+"/posts/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":1,"title":"a"}`, body)

	status, body = do(t, "GET", ts.URL+"/posts/9", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{}`, body)

	status, body = do(t, "GET", ts.URL+"/profile/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{}`, body)
}

func TestPostAssignsID(t *testing.T) {
	ts, mem := setup(t)

	status, body := do(t, "POST", ts.URL+"/posts", `{"title":"c"}`)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":3,"title":"c"}`, body)

	status, body = do(t, "GET", ts.URL+"/posts", "")
	require.Equal(t, http.StatusOK, status)
	var posts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &posts))
	assert.Len(t, posts, 3)

	assert.Contains(t, string(mem.Bytes()), `"title":"c"`)
}

func TestPostConflict(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "POST", ts.URL+"/posts", `{"id":1,"title":"dup"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"Insert failed, duplicate id","data":{"id":1,"title":"dup"}}`, body)

	status, body = do(t, "GET", ts.URL+"/posts/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":1,"title":"a"}`, body)

	status, _ = do(t, "POST", ts.URL+"/posts", `{"id":"2","title":"dup"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestPostErrors(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "POST", ts.URL+"/missing", `{"title":"c"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{}`, body)

	status, _ = do(t, "POST", ts.URL+"/posts", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, "POST", ts.URL+"/posts", `"just a string"`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPutDocument(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "PUT", ts.URL+"/profile", `{"name":"y"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"y"}`, body)

	status, body = do(t, "PUT", ts.URL+"/posts", `{"x":1}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.JSONEq(t, `{}`, body)

	status, _ = do(t, "PUT", ts.URL+"/missing", `{"x":1}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPutItem(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "PUT", ts.URL+"/posts/2", `{"id":7,"title":"new"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":2,"title":"new"}`, body)

	status, body = do(t, "PUT", ts.URL+"/posts/9", `{"title":"new"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{}`, body)
}

func TestPatch(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "PATCH", ts.URL+"/posts/2", `{"title":"b2","id":999}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":2,"title":"b2"}`, body)

	status, body = do(t, "PATCH", ts.URL+"/profile", `{"age":3}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"x","age":3}`, body)

	status, _ = do(t, "PATCH", ts.URL+"/posts", `{"x":1}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, "PATCH", ts.URL+"/profile/1", `{"x":1}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteIsNotIdempotentSuccess(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "DELETE", ts.URL+"/posts/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{}`, body)

	status, _ = do(t, "GET", ts.URL+"/posts/1", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, "DELETE", ts.URL+"/posts/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{}`, body)

	status, body = do(t, "GET", ts.URL+"/posts", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"id":2,"title":"b"}]`, body)
}

func TestTextAndNumericIDsMatch(t *testing.T) {
	ts, _ := setup(t)

	status, _ := do(t, "POST", ts.URL+"/posts", `{"id":"5","title":"five"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, "GET", ts.URL+"/posts/5", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"id":"5","title":"five"}`, body)

	status, _ = do(t, "POST", ts.URL+"/posts", `{"id":5,"title":"again"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestPersistFailure(t *testing.T) {
	ts, mem := setup(t)
	mem.FailWith(errors.New("disk full"))

	status, body := do(t, "PATCH", ts.URL+"/profile", `{"name":"y"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Contains(t, resp["error"], "disk full")
	assert.Equal(t, map[string]any{"name": "y"}, resp["data"])

	status, body = do(t, "GET", ts.URL+"/profile", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"y"}`, body)
}

func TestBodyTooLarge(t *testing.T) {
	v, err := document.Decode([]byte(seed))
	require.NoError(t, err)
	reg, err := store.NewRegistry(store.NewMemory(v.(map[string]any)))
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(reg, handler.Options{MaxBodyBytes: 16}))
	defer ts.Close()

	status, _ := do(t, "POST", ts.URL+"/posts", `{"title":"this body is far too long"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestRootAndHealth(t *testing.T) {
	ts, _ := setup(t)

	status, body := do(t, "GET", ts.URL+"/", "")
	assert.Equal(t, http.StatusOK, status)
	var root struct {
		Collections []store.CollectionStat `json:"collections"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &root))
	require.Len(t, root.Collections, 2)
	assert.Equal(t, "posts", root.Collections[0].Name)
	assert.Equal(t, uint64(3), root.Collections[0].NextID)

	status, body = do(t, "GET", ts.URL+"/_health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy"}`, body)
}

func TestHealthYieldsToCollection(t *testing.T) {
	reg, err := store.NewRegistry(store.NewMemory(map[string]any{
		"_health": []any{map[string]any{"id": 1}},
	}))
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(reg, handler.Options{}))
	t.Cleanup(ts.Close)

	status, body := do(t, "GET", ts.URL+"/_health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"id":1}]`, body)

	status, _ = do(t, "GET", ts.URL+"/_health/1", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestMiddleware(t *testing.T) {
	ts, _ := setup(t)

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/posts", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")

	resp, err = http.Get(ts.URL + "/profile")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(handler.RequestIDHeader))

	req, _ = http.NewRequest("GET", ts.URL+"/profile", nil)
	req.Header.Set(handler.RequestIDHeader, "fixed-id")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "fixed-id", resp.Header.Get(handler.RequestIDHeader))
}

func TestCORSAllowList(t *testing.T) {
	reg, err := store.NewRegistry(store.NewMemory(nil))
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(reg, handler.Options{
		AllowedOrigins: []string{"http://allowed.test"},
	}))
	defer ts.Close()

	for origin, want := range map[string]string{
		"http://allowed.test": "http://allowed.test",
		"http://other.test":   "",
	} {
		req, _ := http.NewRequest("GET", ts.URL+"/_health", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.Header.Get("Access-Control-Allow-Origin"), origin)
	}
}

// The backing file reflects each mutation as soon as the response arrives.
func TestWriteThroughToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))
	reg, err := store.NewRegistry(store.NewJSONFile(path))
	require.NoError(t, err)
	ts := httptest.NewServer(handler.New(reg, handler.Options{}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/posts", "application/json", bytes.NewReader([]byte(`{"title":"c"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := store.NewRegistry(store.NewJSONFile(path))
	require.NoError(t, err)
	item, err := reloaded.GetItem("posts", "3")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": json.Number("3"), "title": "c"}, item)
}
