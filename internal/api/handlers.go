package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/relay"
	"github.com/nerrad567/sensor-relay/internal/session"
)

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	OK      bool   `json:"ok"`
	Time    string `json:"time"`
	Version string `json:"version"`
}

// handleHealth reports that the relay is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:      true,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
	})
}

// whoAmIResponse echoes the caller's token claims. Exp is a Unix timestamp,
// omitted as null for tokens without expiry.
type whoAmIResponse struct {
	Sub    string `json:"sub"`
	HomeID string `json:"homeId"`
	Exp    *int64 `json:"exp"`
}

// handleWhoAmI returns the subject, home and expiry of the caller's token.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	claims := homeClaims(r)
	if claims == nil {
		writeTokenRejected(w)
		return
	}
	resp := whoAmIResponse{
		Sub:    claims.Subject,
		HomeID: claims.HomeID,
	}
	if exp := claims.Expiry(); !exp.IsZero() {
		unix := exp.Unix()
		resp.Exp = &unix
	}
	writeJSON(w, http.StatusOK, resp)
}

// onlineDevicesResponse is the body of GET /api/devices/online.
type onlineDevicesResponse struct {
	Devices []relay.DeviceView `json:"devices"`
}

// handleOnlineDevices lists the devices connected with the caller's token,
// with the number of apps watching each.
func (s *Server) handleOnlineDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, onlineDevicesResponse{
		Devices: s.relay.OnlineDevices(homeToken(r)),
	})
}

// sessionsResponse is the body of GET /api/sessions.
type sessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
}

// handleListSessions lists recent connection sessions for the caller's token.
//
// Query parameters:
//   - mac: only sessions for this device (any MAC notation)
//   - role: device or app
//   - limit: maximum rows, default 50
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeUnavailable(w, "session log is disabled")
		return
	}

	q := r.URL.Query()
	filter := session.Filter{
		TokenFP: auth.Fingerprint(homeToken(r)),
		MAC:     auth.NormalizeMAC(q.Get("mac")),
	}

	switch role := session.Role(q.Get("role")); role {
	case "", session.RoleDevice, session.RoleApp:
		filter.Role = role
	default:
		writeBadRequest(w, "role must be device or app")
		return
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	sessions, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing sessions failed", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}
