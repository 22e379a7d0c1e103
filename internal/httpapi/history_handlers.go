package httpapi

import (
	"net/http"
	"strconv"
)

// handleListConversations returns recent conversations, newest first.
func (r *Router) handleListConversations(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		http.Error(w, `{"error": "persistence disabled"}`, http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	conversations, err := r.store.ListConversations(req.Context(), limit)
	if err != nil {
		r.logger.Printf("api: list conversations: %v", err)
		captureError(req, err, "api: list conversations")
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (r *Router) handleGetConversation(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		http.Error(w, `{"error": "persistence disabled"}`, http.StatusServiceUnavailable)
		return
	}

	c, err := r.store.GetConversation(req.Context(), req.PathValue("id"))
	if err != nil {
		r.logger.Printf("api: get conversation: %v", err)
		captureError(req, err, "api: get conversation")
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	if c == nil {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (r *Router) handleListUtterances(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		http.Error(w, `{"error": "persistence disabled"}`, http.StatusServiceUnavailable)
		return
	}

	utterances, err := r.store.ListUtterances(req.Context(), req.PathValue("id"))
	if err != nil {
		r.logger.Printf("api: list utterances: %v", err)
		captureError(req, err, "api: list utterances")
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"utterances": utterances})
}
