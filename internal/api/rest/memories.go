package rest

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// ObsoleteRequest is the body of POST /memories/{id}/obsolete.
type ObsoleteRequest struct {
	Reason       string `json:"reason"`
	SupersededBy *int64 `json:"superseded_by,omitempty"`
}

// LinkRequest is the body of POST /memories/{id}/links.
type LinkRequest struct {
	TargetIDs []int64 `json:"target_ids"`
}

// LinkResponse lists the targets a link was created for.
type LinkResponse struct {
	Created []int64 `json:"created"`
}

func (h *handlers) createMemory(w http.ResponseWriter, r *http.Request) {
	var in types.MemoryInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, h.logger, err)
		return
	}
	result, err := h.memories.CreateMemory(r.Context(), in)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *handlers) listMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Page:      parseInt(q.Get("page"), 1),
		Limit:     parseInt(q.Get("limit"), 10),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if raw := q.Get("project_id"); raw != "" {
		id, err := parseID("project_id", raw)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		opts.ProjectID = id
	}
	if raw := q.Get("include_obsolete"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, h.logger, types.NewValidationError("include_obsolete", "must be a boolean"))
			return
		}
		opts.IncludeObsolete = b
	}
	opts.Normalize()

	result, err := h.memories.ListMemories(r.Context(), opts)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *handlers) getMemory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	detail, err := h.memories.GetMemory(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *handlers) updateMemory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var patch types.MemoryPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, h.logger, err)
		return
	}
	m, err := h.memories.UpdateMemory(r.Context(), id, patch)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *handlers) markObsolete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req ObsoleteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.memories.MarkObsolete(r.Context(), id, req.Reason, req.SupersededBy); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) linkMemories(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req LinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	created, err := h.memories.LinkMemories(r.Context(), id, req.TargetIDs)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, LinkResponse{Created: created})
}

func (h *handlers) unlinkMemories(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	target, err := parseID("target", chi.URLParam(r, "target"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.memories.UnlinkMemories(r.Context(), id, target); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
