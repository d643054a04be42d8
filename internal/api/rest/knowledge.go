package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scrypster/engram/pkg/types"
)

func (h *handlers) createEntity(w http.ResponseWriter, r *http.Request) {
	var in types.EntityInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, h.logger, err)
		return
	}
	e, err := h.knowledge.CreateEntity(r.Context(), in)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *handlers) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	e, err := h.knowledge.GetEntity(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (h *handlers) linkEntityMemory(w http.ResponseWriter, r *http.Request) {
	entityID, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	memoryID, err := parseID("memory_id", chi.URLParam(r, "memoryID"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.knowledge.LinkEntityMemory(r.Context(), entityID, memoryID); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) createRelationship(w http.ResponseWriter, r *http.Request) {
	var in types.RelationshipInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, h.logger, err)
		return
	}
	rel, err := h.knowledge.CreateRelationship(r.Context(), in)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, rel)
}

func (h *handlers) createProject(w http.ResponseWriter, r *http.Request) {
	var p types.Project
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.knowledge.CreateProject(r.Context(), &p); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	p, err := h.knowledge.GetProject(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *handlers) createDocument(w http.ResponseWriter, r *http.Request) {
	var d types.Document
	if err := decodeJSON(r, &d); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.knowledge.CreateDocument(r.Context(), &d); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (h *handlers) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	d, err := h.knowledge.GetDocument(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *handlers) createCodeArtifact(w http.ResponseWriter, r *http.Request) {
	var c types.CodeArtifact
	if err := decodeJSON(r, &c); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.knowledge.CreateCodeArtifact(r.Context(), &c); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *handlers) getCodeArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	c, err := h.knowledge.GetCodeArtifact(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
