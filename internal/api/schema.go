package api

import (
	"net/http"
	"time"

	"github.com/Iriajul/LLM-model/internal/schema"
)

type schemaResponse struct {
	Schema    string         `json:"schema"`
	Version   string         `json:"version"`
	FetchedAt time.Time      `json:"fetched_at"`
	Tables    []schema.Table `json:"tables"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}

	snap, err := deps.Catalog.Fetch(r.Context(), false)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_FETCH_FAILED", "failed to load schema metadata", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func handleRefreshSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}

	snap, err := deps.Catalog.Fetch(r.Context(), true)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_FETCH_FAILED", "failed to refresh schema metadata", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(snap))
}

func snapshotResponse(snap *schema.Snapshot) schemaResponse {
	return schemaResponse{
		Schema:    snap.SchemaName,
		Version:   snap.Version,
		FetchedAt: snap.FetchedAt,
		Tables:    snap.Tables,
	}
}
