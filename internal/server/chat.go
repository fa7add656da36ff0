package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openquill/dmforge/internal/character"
	"github.com/openquill/dmforge/internal/dm"
	"github.com/openquill/dmforge/pkg/provider/llm"
)

// chatMessage is one transcript entry in a stateless chat body.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the POST /api/chat body. Two modes share the endpoint:
// session mode sends {sessionId, message} against a server-held session;
// stateless mode sends the full transcript plus the character and outline,
// and the server holds nothing between requests.
type chatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`

	Messages        []chatMessage        `json:"messages,omitempty"`
	Character       *character.Character `json:"character,omitempty"`
	CampaignOutline string               `json:"campaignOutline,omitempty"`
}

// handleChat runs one game turn. Session mode streams server-sent events:
//
//	event: chunk   — one narration fragment, JSON-encoded string
//	event: result  — the final dm.TurnResult once the turn settles
//	event: error   — terminal failure; no result follows
//
// Stateless mode streams the narration as plain text and reconciles state
// changes after the stream completes, exactly like a session turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	if len(req.Messages) > 0 {
		s.handleStatelessChat(w, r, req)
		return
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	sess, ok := s.sessions.get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session %q", req.SessionID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	result, err := sess.Turn(r.Context(), req.Message, func(chunk string) {
		writeEvent(w, "chunk", chunk)
		flusher.Flush()
	})
	if err != nil {
		s.logger.Warn("turn failed", "session_id", req.SessionID, "err", err)
		writeEvent(w, "error", err.Error())
		flusher.Flush()
		return
	}

	writeEvent(w, "result", result)
	flusher.Flush()

	s.metrics.TurnDuration.Record(r.Context(), time.Since(start).Seconds())
	s.logger.Info("turn complete",
		"session_id", req.SessionID,
		"duration", time.Since(start),
		"changes", len(result.Changes),
	)
}

// handleStatelessChat plays one turn against a throwaway session seeded from
// the request body. The final transcript entry is the player's new input;
// everything before it is treated as already-reconciled history.
func (s *Server) handleStatelessChat(w http.ResponseWriter, r *http.Request, req chatRequest) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content == "" {
		writeError(w, http.StatusBadRequest, "the final message must be a non-empty user message")
		return
	}

	history := make([]llm.Message, 0, len(req.Messages)-1)
	for _, m := range req.Messages[:len(req.Messages)-1] {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	opts := []dm.SessionOption{dm.WithHistory(history)}
	if req.CampaignOutline != "" {
		opts = append(opts, dm.WithOutline(req.CampaignOutline))
	}
	if req.Character != nil {
		rendered := req.Character.Sheet()
		opts = append(opts, dm.WithSheetFunc(func(context.Context) (string, error) {
			return rendered, nil
		}))
	}
	sess := s.newSession(opts...)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	start := time.Now()
	wrote := false
	result, err := sess.Turn(r.Context(), last.Content, func(chunk string) {
		if !wrote {
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		w.Write([]byte(chunk))
		flusher.Flush()
	})
	if err != nil {
		if !wrote {
			writeError(w, http.StatusBadGateway, "%v", err)
			return
		}
		s.logger.Warn("stateless turn failed mid-stream", "err", err)
		return
	}

	s.metrics.TurnDuration.Record(r.Context(), time.Since(start).Seconds())
	s.logger.Info("stateless turn complete",
		"duration", time.Since(start),
		"changes", len(result.Changes),
	)
}

// writeEvent emits one SSE frame with a JSON-encoded payload. SSE data lines
// must not contain raw newlines; JSON encoding guarantees that.
func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`"encoding failure"`)
	}
	w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
}
