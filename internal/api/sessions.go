package api

import (
	"context"
	"time"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/session"
)

// sessionWriteTimeout bounds each session log write.
const sessionWriteTimeout = 2 * time.Second

// openSession records an admitted connection. Returns the session ID, or ""
// if the session log is disabled or the write failed.
func (s *Server) openSession(p *wsPeer, claims *auth.HomeClaims) string {
	if s.sessions == nil {
		return ""
	}
	sess := &session.Session{
		Role:       p.role,
		Outcome:    session.OutcomeAdmitted,
		TokenFP:    p.tokenFP,
		MAC:        p.mac,
		RemoteAddr: p.remoteAddr,
	}
	if claims != nil {
		sess.HomeID = claims.HomeID
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionWriteTimeout)
	defer cancel()
	if err := s.sessions.Open(ctx, sess); err != nil {
		s.logger.Warn("session open not recorded", "conn", p.id, "error", err)
		return ""
	}
	return sess.ID
}

// closeSession stamps the end of an admitted connection.
func (s *Server) closeSession(id string, code int, reason string) {
	if s.sessions == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionWriteTimeout)
	defer cancel()
	if err := s.sessions.Close(ctx, id, code, reason, time.Now()); err != nil {
		s.logger.Warn("session close not recorded", "session", id, "error", err)
	}
}

// recordRejection writes a failed admission as an already closed session
// carrying the close code it is about to receive.
func (s *Server) recordRejection(p *wsPeer, rej rejection) {
	if s.sessions == nil {
		return
	}
	now := time.Now().UTC()
	code := rej.code
	sess := &session.Session{
		Role:        p.role,
		Outcome:     session.OutcomeRejected,
		TokenFP:     p.tokenFP,
		MAC:         p.mac,
		RemoteAddr:  p.remoteAddr,
		OpenedAt:    now,
		ClosedAt:    &now,
		CloseCode:   &code,
		CloseReason: rej.reason,
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionWriteTimeout)
	defer cancel()
	if err := s.sessions.Open(ctx, sess); err != nil {
		s.logger.Warn("rejected session not recorded", "conn", p.id, "error", err)
	}
}
