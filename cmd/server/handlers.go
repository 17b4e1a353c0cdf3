package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docpipe/docpipe"
	"github.com/docpipe/docpipe/storage"
)

const maxUploadBytes = 100 << 20 // 100MB

type handler struct {
	svc         *docpipe.Service
	broadcaster *broadcaster
}

func newHandler(svc *docpipe.Service, b *broadcaster) *handler {
	return &handler{svc: svc, broadcaster: b}
}

// bucketFor picks the bucket from the optional "visibility" query parameter.
// Unknown or missing values select the private bucket.
func (h *handler) bucketFor(r *http.Request) *storage.Bucket {
	if r.URL.Query().Get("visibility") == "public" {
		return h.svc.Bucket(storage.Public)
	}
	return h.svc.Bucket(storage.Private)
}

// POST /v1/extract
// Multipart upload: stores the original, then extracts its text. Form
// fields: file (required), source, owner_id, encoding, qa_import,
// custom_parse, permanent.
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload with a 'file' field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		slog.Error("reading upload", "error", err)
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
		return
	}

	source := storage.SourceKind(r.FormValue("source"))
	if source == "" {
		source = storage.SourceDatasetFile
	}
	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		ownerID = "anonymous"
	}
	safeName := filepath.Base(header.Filename)

	bucket := h.svc.Bucket(storage.VisibilityFor(source))
	key := storage.ObjectKey(source, ownerID, safeName)
	if _, err := bucket.Upload(ctx, key, data, storage.ContentTypeForFilename(safeName)); err != nil {
		writeError(w, http.StatusBadGateway, "failed to store file")
		slog.Error("storing upload", "key", key, "error", err)
		return
	}
	if r.FormValue("permanent") == "true" {
		if err := bucket.Promote(ctx, key); err != nil {
			slog.Error("promoting upload", "key", key, "error", err)
		}
	}

	var opts []docpipe.ExtractOption
	if r.FormValue("qa_import") == "true" {
		opts = append(opts, docpipe.WithQAImport())
	}
	if r.FormValue("custom_parse") == "true" {
		opts = append(opts, docpipe.WithCustomParse())
	}

	result, err := h.svc.ExtractText(ctx, docpipe.ExtractRequest{
		SourceID:  key,
		Extension: filepath.Ext(safeName),
		Buffer:    data,
		Encoding:  r.FormValue("encoding"),
		Filename:  safeName,
		Source:    source,
	}, opts...)
	if err != nil {
		writeExtractError(w, err)
		slog.Error("extract error", "key", key, "filename", safeName, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":        key,
		"filename":   safeName,
		"text":       result.Text,
		"from_cache": result.FromCache,
	})
}

func writeExtractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docpipe.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, docpipe.ErrWorkerTimeout):
		writeError(w, http.StatusGatewayTimeout, "parsing timed out")
	case errors.Is(err, docpipe.ErrParseFailed), errors.Is(err, docpipe.ErrWorkerCrashed):
		writeError(w, http.StatusUnprocessableEntity, "document could not be parsed")
	case errors.Is(err, docpipe.ErrStorageUnavailable):
		writeError(w, http.StatusBadGateway, "object storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "extraction failed")
	}
}

// POST /v1/uploads/presign
func (h *handler) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source        string `json:"source"`
		OwnerID       string `json:"owner_id"`
		Filename      string `json:"filename"`
		MaxSize       int64  `json:"max_size,omitempty"`
		ExpirySeconds int    `json:"expiry_seconds,omitempty"`
		Temporary     bool   `json:"temporary,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = "anonymous"
	}
	source := storage.SourceKind(req.Source)
	if source == "" {
		source = storage.SourceDatasetFile
	}
	if req.MaxSize <= 0 || req.MaxSize > maxUploadBytes {
		req.MaxSize = maxUploadBytes
	}
	expiry := 15 * time.Minute
	if req.ExpirySeconds > 0 {
		expiry = time.Duration(req.ExpirySeconds) * time.Second
	}

	bucket := h.svc.Bucket(storage.VisibilityFor(source))
	key := storage.ObjectKey(source, req.OwnerID, req.Filename)
	presigned, err := bucket.PresignUpload(r.Context(), key, req.Filename, expiry, req.MaxSize, req.Temporary)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to presign upload")
		slog.Error("presign upload error", "key", key, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":    key,
		"url":    presigned.URL,
		"fields": presigned.Fields,
	})
}

// POST /v1/downloads/presign
func (h *handler) handlePresignDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key           string `json:"key"`
		Visibility    string `json:"visibility,omitempty"`
		ExpirySeconds int    `json:"expiry_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	expiry := 15 * time.Minute
	if req.ExpirySeconds > 0 {
		expiry = time.Duration(req.ExpirySeconds) * time.Second
	}

	bucket := h.svc.Bucket(storage.Private)
	if req.Visibility == "public" {
		bucket = h.svc.Bucket(storage.Public)
	}
	url, err := bucket.PresignDownload(r.Context(), req.Key, expiry)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to presign download")
		slog.Error("presign download error", "key", req.Key, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// GET /v1/files/{key...}
func (h *handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	bucket := h.bucketFor(r)

	meta, err := bucket.Metadata(r.Context(), key)
	if err != nil {
		writeStorageError(w, key, err)
		return
	}
	body, err := bucket.Stream(r.Context(), key)
	if err != nil {
		writeStorageError(w, key, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	if meta.Length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Length, 10))
	}
	if meta.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", meta.Filename))
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Error("streaming file", "key", key, "error", err)
	}
}

// GET /v1/metadata/{key...}
func (h *handler) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	meta, err := h.bucketFor(r).Metadata(r.Context(), key)
	if err != nil {
		writeStorageError(w, key, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":          key,
		"filename":     meta.Filename,
		"extension":    meta.Extension,
		"content_type": meta.ContentType,
		"length":       meta.Length,
	})
}

// DELETE /v1/files/{key...}
// Deletes the object and enqueues cascade deletion of its derived assets.
func (h *handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.bucketFor(r).Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusBadGateway, "delete failed")
		slog.Error("delete error", "key", key, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DELETE /v1/files?prefix=
// Enqueues asynchronous deletion of every object under the prefix.
func (h *handler) handleDeletePrefix(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix query parameter is required")
		return
	}
	if err := h.bucketFor(r).DeletePrefix(r.Context(), prefix); err != nil {
		writeError(w, http.StatusBadGateway, "prefix delete failed")
		slog.Error("prefix delete error", "prefix", prefix, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

// GET /v1/deletions/failed
func (h *handler) handleFailedDeletions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	failures, err := h.svc.Store().ListFailedDeletions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deletion failures")
		slog.Error("list failed deletions error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failures": failures,
		"pending":  h.svc.Queue().PendingLen(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeStorageError(w http.ResponseWriter, key string, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	writeError(w, http.StatusBadGateway, "object storage error")
	slog.Error("storage error", "key", key, "error", err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
