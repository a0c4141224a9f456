package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"teamdigest/internal/apperrors"
	"teamdigest/internal/event"
	"teamdigest/internal/ingest"
)

// SlackHandler terminates the Events API: URL verification handshakes and
// event callbacks. Signature verification runs only when a signing secret is
// configured.
type SlackHandler struct {
	ingest        *ingest.Service
	signingSecret string
}

func NewSlackHandler(ingestSvc *ingest.Service, signingSecret string) *SlackHandler {
	return &SlackHandler{ingest: ingestSvc, signingSecret: signingSecret}
}

func (h *SlackHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperrors.Validation("failed to read request body: %v", err))
		return
	}

	if h.signingSecret != "" {
		verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
		if err != nil {
			writeError(w, apperrors.Validation("missing signature headers: %v", err))
			return
		}
		if _, err := verifier.Write(body); err != nil {
			writeError(w, err)
			return
		}
		if err := verifier.Ensure(); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	apiEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		writeError(w, apperrors.Validation("unparseable event payload: %v", err))
		return
	}

	switch apiEvent.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			writeError(w, apperrors.Validation("invalid url_verification payload: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))

	case slackevents.CallbackEvent:
		var env event.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			writeError(w, apperrors.Validation("invalid event_callback payload: %v", err))
			return
		}
		result, err := h.ingest.Ingest(r.Context(), &env)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, result)

	default:
		writeError(w, apperrors.Validation("unsupported callback type %q", apiEvent.Type))
	}
}

// HandleBackfill accepts a historical event envelope and routes it straight
// to the backfill lane so replayed archives never starve live traffic.
func (h *SlackHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	var env event.Envelope
	if !decodeBody(w, r, &env) {
		return
	}
	result, err := h.ingest.IngestBackfill(r.Context(), &env)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
