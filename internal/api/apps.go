package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/promotion"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// AppReader reads the bronze app registry.
type AppReader interface {
	Bronze(ctx context.Context) ([]review.TrackedApp, bool, error)
}

type appResponse struct {
	review.TrackedApp
	Active bool `json:"active"`
}

func (h *Handler) handleListApps(w http.ResponseWriter, r *http.Request) {
	_, z, ok := h.zone(w, r)
	if !ok {
		return
	}

	apps, _, err := z.Metadata.Bronze(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("read bronze metadata")
		writeError(w, http.StatusInternalServerError, "failed to read app registry")
		return
	}

	result := make([]appResponse, 0, len(apps))
	for _, app := range apps {
		result = append(result, appResponse{TrackedApp: app, Active: app.IsActive()})
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	_, z, ok := h.zone(w, r)
	if !ok {
		return
	}

	prefix := strings.TrimSuffix(z.Prefix, "/") + "/"
	if sub := strings.Trim(r.URL.Query().Get("prefix"), "/"); sub != "" {
		prefix += sub
	}

	keys, err := z.Bronze.List(r.Context(), prefix)
	if err != nil {
		h.log.Error().Err(err).Str("prefix", prefix).Msg("list bronze artifacts")
		writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}

	artifacts := make([]string, 0, len(keys))
	for _, k := range keys {
		if path.Ext(k) == ".parquet" {
			artifacts = append(artifacts, k)
		}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (h *Handler) handleGetReviews(w http.ResponseWriter, r *http.Request) {
	_, z, ok := h.zone(w, r)
	if !ok {
		return
	}

	key := path.Clean(r.PathValue("key"))
	if !strings.HasPrefix(key, strings.TrimSuffix(z.Prefix, "/")+"/") || path.Ext(key) != ".parquet" {
		writeError(w, http.StatusNotFound, "not a bronze artifact")
		return
	}

	rows, err := h.loadArtifact(r.Context(), z.Bronze, key)
	if errors.Is(err, blob.ErrNotExist) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("load bronze artifact")
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// loadArtifact reads and decodes a bronze artifact, reusing a cached decode
// when the content is unchanged.
func (h *Handler) loadArtifact(ctx context.Context, bucket blob.Bucket, key string) ([]review.Review, error) {
	data, err := bucket.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if rows, ok := h.cache.Get(checksum); ok {
		return rows, nil
	}

	rows, err := promotion.DecodeParquet(ctx, data)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []review.Review{}
	}
	h.cache.Put(checksum, rows)
	return rows, nil
}
