package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/digest"
	"teamdigest/internal/feedback"
	"teamdigest/internal/storage"
)

type DigestHandler struct {
	builder *digest.Builder
	learner *feedback.Learner
	store   storage.Store
}

func NewDigestHandler(builder *digest.Builder, learner *feedback.Learner, store storage.Store) *DigestHandler {
	return &DigestHandler{builder: builder, learner: learner, store: store}
}

// GetDigest builds a digest on demand for ?user_id=&project_id=&n=.
// k is accepted as an alias for n.
func (h *DigestHandler) GetDigest(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	projectID := r.URL.Query().Get("project_id")
	if userID == "" || projectID == "" {
		writeError(w, apperrors.Validation("user_id and project_id are required"))
		return
	}
	n := 0
	raw := r.URL.Query().Get("n")
	if raw == "" {
		raw = r.URL.Query().Get("k")
	}
	if raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, apperrors.Validation("n must be a positive integer"))
			return
		}
		n = parsed
	}

	result, err := h.builder.Build(r.Context(), userID, projectID, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DigestHandler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"user_id"`
		ProjectID string `json:"project_id"`
		ThreadTS  string `json:"thread_ts"`
		Action    string `json:"action"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" || body.ThreadTS == "" || body.Action == "" {
		writeError(w, apperrors.Validation("user_id, thread_ts and action are required"))
		return
	}
	if err := h.learner.Apply(r.Context(), body.UserID, body.ProjectID, body.ThreadTS, body.Action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (h *DigestHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var schedule storage.Schedule
	if !decodeBody(w, r, &schedule) {
		return
	}
	if schedule.UserID == "" || schedule.ProjectID == "" {
		writeError(w, apperrors.Validation("user_id and project_id are required"))
		return
	}
	if schedule.ScheduleID == "" {
		schedule.ScheduleID = uuid.New().String()
	}
	schedule.Enabled = true
	if err := h.store.InsertSchedule(r.Context(), &schedule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *DigestHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": schedules})
}

// RunScheduledDigests builds a digest for every enabled schedule immediately.
func (h *DigestHandler) RunScheduledDigests(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.store.ListSchedules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]map[string]interface{}, 0, len(schedules))
	for _, schedule := range schedules {
		if !schedule.Enabled {
			continue
		}
		entry := map[string]interface{}{
			"schedule_id": schedule.ScheduleID,
			"user_id":     schedule.UserID,
			"project_id":  schedule.ProjectID,
		}
		d, err := h.builder.Build(r.Context(), schedule.UserID, schedule.ProjectID, 0)
		if err != nil {
			entry["error"] = err.Error()
		} else {
			entry["digest_id"] = d.DigestID
			entry["items"] = len(d.Items)
		}
		results = append(results, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": results})
}

func (h *DigestHandler) ListDigests(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListDigests(r.Context(), r.URL.Query().Get("user_id"), 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"digests": records})
}
