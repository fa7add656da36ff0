package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openquill/dmforge/internal/dm"
	"github.com/openquill/dmforge/internal/observe"
)

// SessionInfo is the public metadata for one game session.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Turns     int       `json:"turns"`
}

// sessionManager owns the live game sessions. Sessions live in memory for
// the lifetime of the process; conversation history dies with them.
type sessionManager struct {
	newSession func(opts ...dm.SessionOption) *dm.Session
	metrics    *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session   *dm.Session
	createdAt time.Time
}

func newSessionManager(factory func(opts ...dm.SessionOption) *dm.Session, metrics *observe.Metrics) *sessionManager {
	return &sessionManager{
		newSession: factory,
		metrics:    metrics,
		sessions:   make(map[string]*managedSession),
	}
}

// create registers a fresh session and returns its ID.
func (m *sessionManager) create(ctx context.Context) SessionInfo {
	id := newSessionID()
	ms := &managedSession{
		session:   m.newSession(),
		createdAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.sessions[id] = ms
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	return SessionInfo{ID: id, CreatedAt: ms.createdAt}
}

func (m *sessionManager) get(id string) (*dm.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// remove drops a session. Reports whether it existed.
func (m *sessionManager) remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	return ok
}

// list returns session metadata sorted by creation time.
func (m *sessionManager) list() []SessionInfo {
	m.mu.Lock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for id, ms := range m.sessions {
		infos = append(infos, SessionInfo{
			ID:        id,
			CreatedAt: ms.createdAt,
			Turns:     len(ms.session.History()) / 2,
		})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// math/rand quality is acceptable for a session handle, but
		// crypto/rand.Read only fails on a broken platform.
		panic(err)
	}
	return "sess-" + hex.EncodeToString(b[:])
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	info := s.sessions.create(r.Context())
	s.logger.Info("session created", "session_id", info.ID)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.list())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.remove(r.Context(), id) {
		writeError(w, http.StatusNotFound, "unknown session %q", id)
		return
	}
	s.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session %q", id)
		return
	}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	history := sess.History()
	out := make([]message, 0, len(history))
	for _, msg := range history {
		out = append(out, message{Role: msg.Role, Content: msg.Content})
	}
	writeJSON(w, http.StatusOK, out)
}
