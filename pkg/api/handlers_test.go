package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// fakeStore is a minimal in-memory KVStore double used to exercise the HTTP
// handlers without pulling in the tree's paging machinery.
type fakeStore struct {
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) Put(key, value []byte) error {
	f.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeStore) Get(key []byte) ([]byte, error) {
	v, ok := f.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeStore) Delete(key []byte) error {
	delete(f.data, string(key))
	return nil
}

func (f *fakeStore) Stats() (Stats, error) {
	return Stats{Keys: len(f.data)}, nil
}

func newTestServer() (*Server, *fakeStore) {
	store := newFakeStore()
	server := NewServer(store, ServerConfig{Port: 8080, APIKey: "test-key"}, NewMetrics())
	return server, store
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestContentTypeHandling(t *testing.T) {
	t.Run("encode/decode with content type", func(t *testing.T) {
		originalData := []byte(`{"name": "test", "value": 123}`)
		contentType := ContentTypeJSON

		encoded := encodeDataWithContentType(originalData, contentType)
		decoded, decodedType := decodeDataWithContentType(encoded)

		if decodedType != contentType {
			t.Errorf("Expected content type %d, got %d", contentType, decodedType)
		}
		if !bytes.Equal(decoded, originalData) {
			t.Errorf("Decoded data doesn't match original")
		}
	})

	t.Run("decode legacy data without header", func(t *testing.T) {
		rawData := []byte("legacy value")
		decoded, decodedType := decodeDataWithContentType(rawData)

		if decodedType != ContentTypeRaw {
			t.Errorf("Expected ContentTypeRaw, got %d", decodedType)
		}
		if !bytes.Equal(decoded, rawData) {
			t.Errorf("Expected raw passthrough, got %v", decoded)
		}
	})

	t.Run("content type header detection", func(t *testing.T) {
		if getContentTypeFromHeader("application/json; charset=utf-8") != ContentTypeJSON {
			t.Error("Expected JSON content type to be detected")
		}
		if getContentTypeFromHeader("application/octet-stream") != ContentTypeRaw {
			t.Error("Expected non-JSON content type to fall back to raw")
		}
	})
}

func TestHandlePutAndGet(t *testing.T) {
	server, _ := newTestServer()

	putReq := httptest.NewRequest(http.MethodPut, "/api/v1/kv/greeting", strings.NewReader("hello"))
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putReq = withChiParam(putReq, "key", "greeting")
	putW := httptest.NewRecorder()
	server.handlePut(putW, putReq)

	if putW.Code != http.StatusOK {
		t.Fatalf("expected 200 from put, got %d: %s", putW.Code, putW.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/kv/greeting", nil)
	getReq = withChiParam(getReq, "key", "greeting")
	getW := httptest.NewRecorder()
	server.handleGet(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200 from get, got %d", getW.Code)
	}
	if getW.Body.String() != "hello" {
		t.Errorf("expected body %q, got %q", "hello", getW.Body.String())
	}
}

func TestHandleGetMissingKey(t *testing.T) {
	server, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/kv/absent", nil)
	req = withChiParam(req, "key", "absent")
	w := httptest.NewRecorder()
	server.handleGet(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleDelete(t *testing.T) {
	server, store := newTestServer()
	store.data["to-delete"] = encodeDataWithContentType([]byte("bye"), ContentTypeRaw)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/kv/to-delete", nil)
	req = withChiParam(req, "key", "to-delete")
	w := httptest.NewRecorder()
	server.handleDelete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := store.data["to-delete"]; ok {
		t.Error("expected key to be removed from store")
	}
}

func TestHandleStats(t *testing.T) {
	server, store := newTestServer()
	store.data["a"] = []byte("1")
	store.data["b"] = []byte("2")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	server.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"keys":2`) {
		t.Errorf("expected stats body to report 2 keys, got %s", w.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("expected healthy status in body, got %s", w.Body.String())
	}
}
