package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/pipeline"
	"teamdigest/internal/queue"
	"teamdigest/internal/storage"
)

const defaultListLimit = 50

// InspectHandler serves the read-only operational surface: queue status,
// stored threads and items, embeddings, and the raw event log. It also hosts
// the thread rebuild endpoint used after bulk imports.
type InspectHandler struct {
	store   storage.Store
	manager *queue.Manager
	proc    *pipeline.Processor
}

func NewInspectHandler(store storage.Store, manager *queue.Manager, proc *pipeline.Processor) *InspectHandler {
	return &InspectHandler{store: store, manager: manager, proc: proc}
}

func (h *InspectHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"lanes": h.manager.Status()})
}

func (h *InspectHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.store.ListThreads(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

func (h *InspectHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadTS := mux.Vars(r)["thread_ts"]
	thread, err := h.store.GetThread(r.Context(), threadTS)
	if err != nil {
		writeError(w, err)
		return
	}
	if thread == nil {
		writeError(w, apperrors.NotFound("thread %s not found", threadTS))
		return
	}
	messages, err := h.store.ThreadMessages(r.Context(), threadTS)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thread":   thread,
		"messages": messages,
	})
}

func (h *InspectHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListDigestItems(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *InspectHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	threadTS := mux.Vars(r)["thread_ts"]
	item, err := h.store.GetDigestItem(r.Context(), threadTS)
	if err != nil {
		writeError(w, err)
		return
	}
	if item == nil {
		writeError(w, apperrors.NotFound("digest item %s not found", threadTS))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *InspectHandler) GetEmbedding(w http.ResponseWriter, r *http.Request) {
	threadTS := mux.Vars(r)["thread_ts"]
	emb, err := h.store.GetEmbedding(r.Context(), storage.OwnerItem, threadTS)
	if err != nil {
		writeError(w, err)
		return
	}
	if emb == nil {
		writeError(w, apperrors.NotFound("embedding for %s not found", threadTS))
		return
	}
	writeJSON(w, http.StatusOK, emb)
}

func (h *InspectHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListEvents(r.Context(), listLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// RebuildThreads re-runs stats, enrichment and embedding for stored threads.
// With a thread_ts body field only that thread is rebuilt.
func (h *InspectHandler) RebuildThreads(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ThreadTS string `json:"thread_ts"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &body) {
		return
	}

	var threads []storage.Thread
	if body.ThreadTS != "" {
		thread, err := h.store.GetThread(r.Context(), body.ThreadTS)
		if err != nil {
			writeError(w, err)
			return
		}
		if thread == nil {
			writeError(w, apperrors.NotFound("thread %s not found", body.ThreadTS))
			return
		}
		threads = []storage.Thread{*thread}
	} else {
		all, err := h.store.ListThreads(r.Context(), 0)
		if err != nil {
			writeError(w, err)
			return
		}
		threads = all
	}

	rebuilt := 0
	for _, thread := range threads {
		if err := h.proc.Rebuild(r.Context(), thread.Channel, thread.ThreadTS); err != nil {
			writeError(w, err)
			return
		}
		rebuilt++
	}
	writeJSON(w, http.StatusOK, map[string]int{"rebuilt": rebuilt})
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultListLimit
}
