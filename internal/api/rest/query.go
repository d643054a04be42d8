package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/events"
	"github.com/scrypster/engram/pkg/types"
)

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req engine.RetrievalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	result, err := h.retriever.Retrieve(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// traverse handles GET /graph?node_id=&depth=&node_types=&max_nodes=&include_obsolete=
func (h *handlers) traverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := engine.GraphRequest{
		NodeID:   q.Get("node_id"),
		Depth:    parseInt(q.Get("depth"), 0),
		MaxNodes: parseInt(q.Get("max_nodes"), 0),
	}
	// node_types is comma-separated or repeated.
	for _, raw := range q["node_types"] {
		for _, kind := range strings.Split(raw, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				req.NodeTypes = append(req.NodeTypes, types.NodeKind(kind))
			}
		}
	}
	if raw := q.Get("include_obsolete"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, h.logger, types.NewValidationError("include_obsolete", "must be a boolean"))
			return
		}
		req.IncludeObsolete = b
	}

	result, err := h.graph.Traverse(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *handlers) pullEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, h.logger, types.NewValidationError("since", "must be a non-negative integer"))
			return
		}
		since = v
	}
	respondJSON(w, http.StatusOK, h.bus.Since(events.UserFromContext(r.Context()), since))
}
