package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server holds the API server state
type Server struct {
	store   KVStore
	config  ServerConfig
	metrics *Metrics
}

// NewServer creates a new API server
func NewServer(store KVStore, config ServerConfig, metrics *Metrics) *Server {
	return &Server{
		store:   store,
		config:  config,
		metrics: metrics,
	}
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Get the health status of the API
//	@Tags			health
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/health [get]
//	@Security		ApiKeyAuth
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handlePut godoc
//
//	@Summary		Put a key-value pair
//	@Description	Store a key-value pair in the index
//	@Tags			kv
//	@Accept			octet-stream,json
//	@Produce		json
//	@Param			key				path		string	true	"Key"
//	@Param			body			body		[]byte	true	"Value"
//	@Param			Content-Type	header		string	false	"Content type (application/json or application/octet-stream)"
//	@Success		200				{object}	map[string]string
//	@Failure		400				{object}	map[string]string
//	@Failure		500				{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/kv/{key} [put]
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := chi.URLParam(r, "key")
	if key == "" {
		s.metrics.RecordDBOperation("put", false, time.Since(start))
		sendError(w, "Key is required", http.StatusBadRequest)
		return
	}

	unescapedKey, err := url.QueryUnescape(key)
	if err != nil {
		s.metrics.RecordDBOperation("put", false, time.Since(start))
		sendError(w, "Invalid key encoding", http.StatusBadRequest)
		return
	}

	body := make([]byte, r.ContentLength)
	if _, err := r.Body.Read(body); err != nil && err.Error() != "EOF" {
		s.metrics.RecordDBOperation("put", false, time.Since(start))
		sendError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	contentType := getContentTypeFromHeader(r.Header.Get("Content-Type"))

	var dataToStore []byte
	if contentType == ContentTypeJSON {
		var jsonData interface{}
		if err := json.Unmarshal(body, &jsonData); err != nil {
			s.metrics.RecordDBOperation("put", false, time.Since(start))
			sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}
		formattedJSON, err := json.Marshal(jsonData)
		if err != nil {
			s.metrics.RecordDBOperation("put", false, time.Since(start))
			sendError(w, "Failed to format JSON", http.StatusInternalServerError)
			return
		}
		dataToStore = formattedJSON
	} else {
		dataToStore = body
	}

	encodedData := encodeDataWithContentType(dataToStore, contentType)

	if err := s.store.Put([]byte(unescapedKey), encodedData); err != nil {
		s.metrics.RecordDBOperation("put", false, time.Since(start))
		sendError(w, fmt.Sprintf("Failed to put key-value: %v", err), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordDBOperation("put", true, time.Since(start))
	sendSuccess(w, map[string]string{"message": "Key-value pair stored successfully"})
}

// handleGet godoc
//
//	@Summary		Get a value by key
//	@Description	Retrieve the value stored for a given key
//	@Tags			kv
//	@Accept			json
//	@Produce		octet-stream,json
//	@Param			key	path		string	true	"Key"
//	@Success		200	{string}	byte
//	@Failure		400	{object}	map[string]string
//	@Failure		404	{object}	map[string]string
//	@Failure		500	{object}	map[string]string
//	@Router			/kv/{key} [get]
//	@Security		ApiKeyAuth
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := chi.URLParam(r, "key")
	if key == "" {
		s.metrics.RecordDBOperation("get", false, time.Since(start))
		sendError(w, "Key is required", http.StatusBadRequest)
		return
	}

	encodedValue, err := s.store.Get([]byte(key))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			s.metrics.RecordDBOperation("get", false, time.Since(start))
			sendError(w, "Key not found", http.StatusNotFound)
		} else {
			s.metrics.RecordDBOperation("get", false, time.Since(start))
			sendError(w, fmt.Sprintf("Failed to get value: %v", err), http.StatusInternalServerError)
		}
		return
	}

	data, contentType := decodeDataWithContentType(encodedValue)
	s.metrics.RecordDBOperation("get", true, time.Since(start))

	w.Header().Set("Content-Type", getContentTypeHeader(contentType))
	if _, err := w.Write(data); err != nil {
		sendError(w, "Failed to write response", http.StatusInternalServerError)
		return
	}
}

// handleDelete godoc
//
//	@Summary		Delete a key-value pair
//	@Description	Delete the key-value pair for a given key
//	@Tags			kv
//	@Accept			json
//	@Produce		json
//	@Param			key	path		string	true	"Key"
//	@Success		200	{object}	map[string]string
//	@Failure		400	{object}	map[string]string
//	@Failure		500	{object}	map[string]string
//	@Router			/kv/{key} [delete]
//	@Security		ApiKeyAuth
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := chi.URLParam(r, "key")
	if key == "" {
		s.metrics.RecordDBOperation("delete", false, time.Since(start))
		sendError(w, "Key is required", http.StatusBadRequest)
		return
	}

	if err := s.store.Delete([]byte(key)); err != nil {
		s.metrics.RecordDBOperation("delete", false, time.Since(start))
		sendError(w, fmt.Sprintf("Failed to delete key: %v", err), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordDBOperation("delete", true, time.Since(start))
	sendSuccess(w, map[string]string{"message": "Key deleted successfully"})
}

// handleStats godoc
//
//	@Summary		Get index statistics
//	@Description	Get statistics about the index including key count
//	@Tags			diagnostics
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Failure		500	{object}	map[string]string
//	@Router			/stats [get]
//	@Security		ApiKeyAuth
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		sendError(w, fmt.Sprintf("Failed to get stats: %v", err), http.StatusInternalServerError)
		return
	}
	s.metrics.UpdateDBStats(stats.Keys)
	sendSuccess(w, stats)
}

// Content type constants
const (
	ContentTypeRaw    = 0
	ContentTypeJSON   = 1
	ContentTypeHeader = 2 // Size of the header (type byte + null terminator)
)

// encodeDataWithContentType encodes data with content-type metadata
func encodeDataWithContentType(data []byte, contentType int) []byte {
	header := make([]byte, ContentTypeHeader)
	header[0] = byte(contentType)
	header[1] = 0 // null terminator

	return append(header, data...)
}

// decodeDataWithContentType decodes data and extracts content-type metadata
func decodeDataWithContentType(encodedData []byte) ([]byte, int) {
	if len(encodedData) < ContentTypeHeader {
		// No header present, treat as raw bytes (backward compatibility)
		return encodedData, ContentTypeRaw
	}

	contentType := int(encodedData[0])
	if encodedData[1] != 0 {
		// Invalid header format, treat as raw bytes
		return encodedData, ContentTypeRaw
	}

	data := encodedData[ContentTypeHeader:]
	return data, contentType
}

// getContentTypeFromHeader extracts content type from HTTP Content-Type header
func getContentTypeFromHeader(contentTypeHeader string) int {
	if strings.Contains(contentTypeHeader, "application/json") {
		return ContentTypeJSON
	}
	return ContentTypeRaw
}

// getContentTypeHeader returns the appropriate HTTP Content-Type header for a content type
func getContentTypeHeader(contentType int) string {
	switch contentType {
	case ContentTypeJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// startMetricsUpdater periodically updates index metrics
func (s *Server) startMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if stats, err := s.store.Stats(); err == nil {
			s.metrics.UpdateDBStats(stats.Keys)
		}
	}
}
