package removebg

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_FallsBackOn404(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/api/remove" {
			http.NotFound(w, r)
			return
		}
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "image/png")
		w.Write(append([]byte("png:"), data...))
	}))
	defer srv.Close()

	out, err := NewLocal(srv.URL+"/", srv.Client()).Remove(context.Background(), []byte("img"), "cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/remove", "/remove"}, hits)
	assert.Equal(t, "png:img", string(out.Data))
	assert.Equal(t, "local-rembg/remove", out.Backend)
}

func TestLocal_StopsOnServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewLocal(srv.URL, srv.Client()).Remove(context.Background(), []byte("img"), "")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Contains(t, err.Error(), "rembg server error 500 on /api/remove: model crashed")
}

func TestLocal_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewLocal(url, http.DefaultClient).Remove(context.Background(), []byte("img"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func replicateServer(t *testing.T, runningPolls int32, final string) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/v1/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]any{"id": "f1", "urls": map[string]string{"get": srv.URL + "/files/f1"}})
	})
	mux.HandleFunc("/v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string            `json:"model"`
			Input map[string]string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cjwbw/rembg", body.Model)
		assert.Equal(t, srv.URL+"/files/f1", body.Input["image"])
		json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "starting"})
	})
	mux.HandleFunc("/v1/predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n <= runningPolls {
			json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "processing"})
			return
		}
		if final == "failed" {
			json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "failed", "error": "bad image"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "succeeded", "output": []string{srv.URL + "/out.png"}})
	})
	mux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\x89PNG-cutout"))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newReplicate(srv *httptest.Server, maxPolls int) *Replicate {
	return NewReplicate(Config{
		ReplicateURL:   srv.URL,
		ReplicateToken: "tok",
		PollInterval:   5 * time.Millisecond,
		MaxPolls:       maxPolls,
	}, srv.Client())
}

func TestReplicate_Succeeds(t *testing.T) {
	srv, polls := replicateServer(t, 2, "succeeded")

	out, err := newReplicate(srv, 50).Remove(context.Background(), []byte("img"), "cat.png")
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG-cutout", string(out.Data))
	assert.Equal(t, BackendReplicate, out.Backend)
	assert.Equal(t, int32(3), atomic.LoadInt32(polls))
}

func TestReplicate_Failed(t *testing.T) {
	srv, _ := replicateServer(t, 0, "failed")

	_, err := newReplicate(srv, 50).Remove(context.Background(), []byte("img"), "cat.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replicate failed: failed bad image")
}

func TestReplicate_Timeout(t *testing.T) {
	srv, polls := replicateServer(t, 1000, "succeeded")

	_, err := newReplicate(srv, 3).Remove(context.Background(), []byte("img"), "cat.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replicate timeout")
	assert.Equal(t, int32(4), atomic.LoadInt32(polls))
}

func TestReplicate_RequiresToken(t *testing.T) {
	_, err := NewReplicate(Config{}, http.DefaultClient).Remove(context.Background(), []byte("img"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPLICATE_API_TOKEN")
}

func TestNew(t *testing.T) {
	r, err := New(Config{Backend: BackendLocal}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, r)

	r, err = New(Config{Backend: BackendReplicate}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Replicate{}, r)

	_, err = New(Config{Backend: "magic"}, nil)
	assert.Error(t, err)
}

func TestOutputURL(t *testing.T) {
	u, err := outputURL(json.RawMessage(`"https://x/y.png"`))
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", u)

	_, err = outputURL(json.RawMessage(`null`))
	assert.Error(t, err)
}
