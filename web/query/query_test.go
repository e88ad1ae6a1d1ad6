package query

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	router := mux.NewRouter()
	return NewServer("/query", router), router
}

func get(t *testing.T, router *mux.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestServer_KeyLookup(t *testing.T) {
	srv, router := testServer(t)

	values := map[string]interface{}{
		"alice": int64(42),
		"bob":   "hello",
	}
	require.NoError(t, srv.AttachSource("counts", func(key string) (interface{}, error) {
		return values[key], nil
	}))

	resp := get(t, router, "/query/counts/alice")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	require.Equal(t, "42", resp.Body.String())

	resp = get(t, router, "/query/counts/bob")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, `"hello"`, resp.Body.String())
}

func TestServer_UnknownKey(t *testing.T) {
	srv, router := testServer(t)

	require.NoError(t, srv.AttachSource("counts", func(key string) (interface{}, error) {
		return nil, nil
	}))

	resp := get(t, router, "/query/counts/unknown")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_UnknownSource(t *testing.T) {
	_, router := testServer(t)

	resp := get(t, router, "/query/missing/key")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestServer_GetterError(t *testing.T) {
	srv, router := testServer(t)

	require.NoError(t, srv.AttachSource("broken", func(key string) (interface{}, error) {
		return nil, errors.New("storage gone")
	}))

	resp := get(t, router, "/query/broken/key")
	require.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestServer_DuplicateSource(t *testing.T) {
	srv, _ := testServer(t)

	getter := func(key string) (interface{}, error) { return nil, nil }
	require.NoError(t, srv.AttachSource("counts", getter))
	require.Error(t, srv.AttachSource("counts", getter))
}

func TestServer_Index(t *testing.T) {
	srv, router := testServer(t)

	require.NoError(t, srv.AttachSource("counts", func(key string) (interface{}, error) {
		return nil, nil
	}))

	resp := get(t, router, "/query/")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, `["counts"]`, resp.Body.String())
}
