package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"typeauthn/pkg/biometric"
	"typeauthn/pkg/keystroke"
	"typeauthn/pkg/structlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Session tokens gate the stream; the browser origin is not trusted
	// for anything.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamInbound is one client frame: a batch of new key events, or a final
// marker asking for the definitive verdict.
type streamInbound struct {
	Type   string           `json:"type"` // "events" | "final"
	Events []map[string]any `json:"events,omitempty"`
}

type streamOutbound struct {
	Type        string                        `json:"type"` // "checkpoint" | "decision" | "error"
	Decision    string                        `json:"decision,omitempty"`
	Accepted    bool                          `json:"accepted,omitempty"`
	Ensemble    float64                       `json:"ensemble,omitempty"`
	Keystrokes  int                           `json:"keystrokes,omitempty"`
	AccessToken string                        `json:"access_token,omitempty"`
	Result      *biometric.VerificationResult `json:"result,omitempty"`
	Error       string                        `json:"error,omitempty"`
}

// handleAuthStream verifies a typing sample incrementally over a websocket.
// The client appends key events as they happen; after each batch the sample
// is re-scored without touching the confidence log, and the stream commits
// to an accept as soon as a checkpoint clears the ensemble threshold. The
// final verdict (early or client-requested) runs one recorded verification.
func (s *server) handleAuthStream(w http.ResponseWriter, r *http.Request) {
	userID, _, err := s.sessions.Validate(r.URL.Query().Get("token"), purposeAuth)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid authentication session")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.streamSessions.Inc()
	defer s.metrics.streamSessions.Dec()

	conn.SetReadLimit(1 << 20)
	var events []keystroke.Event
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		var in streamInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		switch in.Type {
		case "events":
			batch, err := keystroke.ParseEvents(in.Events)
			if err != nil {
				conn.WriteJSON(streamOutbound{Type: "error", Error: err.Error()})
				continue
			}
			events = append(events, batch...)

			// Too few events carries no variance yet and would trip the
			// liveness check; wait for roughly four full keystrokes.
			if len(events) < 8 {
				continue
			}
			res, err := s.engine.Peek(r.Context(), userID, events)
			if err != nil {
				// Too few events for a checkpoint is normal early in the
				// stream; anything else ends the session.
				if errors.Is(err, keystroke.ErrInvalidInput) {
					continue
				}
				s.streamFail(conn, userID, err)
				return
			}
			conn.WriteJSON(streamOutbound{
				Type:       "checkpoint",
				Decision:   res.Decision,
				Accepted:   res.Accepted,
				Ensemble:   res.Ensemble,
				Keystrokes: len(events),
			})
			if res.Accepted {
				s.streamDecide(conn, r, userID, events)
				return
			}
		case "final":
			s.streamDecide(conn, r, userID, events)
			return
		default:
			conn.WriteJSON(streamOutbound{Type: "error", Error: "unknown frame type"})
		}
	}
}

// streamDecide runs the recorded verification and sends the closing frame.
func (s *server) streamDecide(conn *websocket.Conn, r *http.Request, userID string, events []keystroke.Event) {
	res, err := s.engine.Verify(r.Context(), userID, events)
	if err != nil {
		s.streamFail(conn, userID, err)
		return
	}
	s.metrics.verifyTotal.WithLabelValues(res.Decision).Inc()
	s.audit.Record(r.Context(), auditEvent{
		UserID: userID, Action: "verify_stream", Decision: res.Decision, Ensemble: res.Ensemble, Detail: res,
	})
	out := streamOutbound{
		Type:     "decision",
		Decision: res.Decision,
		Accepted: res.Accepted,
		Ensemble: res.Ensemble,
		Result:   res,
	}
	if res.Accepted {
		if access, err := s.sessions.Issue(userID, purposeAccess, ""); err == nil {
			out.AccessToken = access
		}
	}
	conn.WriteJSON(out)
}

func (s *server) streamFail(conn *websocket.Conn, userID string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, biometric.ErrLiveness):
		msg = "liveness check failed"
		s.metrics.verifyTotal.WithLabelValues("liveness_reject").Inc()
	case errors.Is(err, biometric.ErrModelNotTrained):
		msg = "user has no trained model"
	case errors.Is(err, keystroke.ErrInvalidInput):
		msg = err.Error()
	default:
		s.logger.Error("stream verification failed", structlog.Fields{"user_id": userID, "error": err.Error()})
	}
	conn.WriteJSON(streamOutbound{Type: "decision", Decision: biometric.DecisionReject, Error: msg})
}
