package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandlers struct{}

func (fakeHandlers) AddHandlers(r *mux.Router) {
	r.HandleFunc(OutputPrefix+"/1/2/3/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("output"))
	})
	r.HandleFunc("/ci/images/x", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image"))
	})
	r.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("oops")
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer(logr.Discard(), ServerConfig{
		EnableRequestLogging: true,
		Handlers:             []Handlers{fakeHandlers{}},
	})
	require.NoError(t, err)
	return srv
}

func TestServer(t *testing.T) {
	srv := newTestServer(t)

	t.Run("healthz", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"Version"`)
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestServer_ETag(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest("GET", OutputPrefix+"/1/2/3/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "output", w.Body.String())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	r := httptest.NewRequest("GET", OutputPrefix+"/1/2/3/1", nil)
	r.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	// other routes are not tagged
	w = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/ci/images/x", nil))
	assert.Empty(t, w.Header().Get("ETag"))
}

func TestNewServer_SSLRequiresCerts(t *testing.T) {
	_, err := NewServer(logr.Discard(), ServerConfig{SSL: true})
	assert.Error(t, err)
}
