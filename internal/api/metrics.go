package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/sensor-relay/internal/export"
	"github.com/nerrad567/sensor-relay/internal/relay"
)

// collaboratorCheckTimeout bounds each collaborator health check.
const collaboratorCheckTimeout = 2 * time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                         `json:"timestamp"`
	Version       string                         `json:"version"`
	UptimeSeconds int64                          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics                 `json:"runtime"`
	WebSocket     WSMetrics                      `json:"websocket"`
	Relay         relay.Stats                    `json:"relay"`
	Database      *DatabaseMetrics               `json:"database,omitempty"`
	Export        *export.Stats                  `json:"export,omitempty"`
	Collaborators map[string]CollaboratorMetrics `json:"collaborators,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	Devices          int `json:"devices"`
	Apps             int `json:"apps"`
}

// DatabaseMetrics contains database connection pool statistics and the
// schema version.
type DatabaseMetrics struct {
	OpenConnections   int    `json:"open_connections"`
	InUse             int    `json:"in_use"`
	Idle              int    `json:"idle"`
	WaitCount         int64  `json:"wait_count"`
	SchemaVersion     string `json:"schema_version,omitempty"`
	PendingMigrations int    `json:"pending_migrations"`
	MigrationError    string `json:"migration_error,omitempty"`
}

// CollaboratorMetrics reports the health of an optional collaborator.
type CollaboratorMetrics struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	devices, apps := s.hub.CountByRole()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			Devices:          devices,
			Apps:             apps,
		},
		Relay: s.relay.Stats(),
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
		s.addSchemaStatus(r.Context(), metrics.Database)
	}

	if s.export != nil {
		stats := s.export.Stats()
		metrics.Export = &stats
	}

	if len(s.collaborators) > 0 {
		metrics.Collaborators = make(map[string]CollaboratorMetrics, len(s.collaborators))
		for name, c := range s.collaborators {
			ctx, cancel := context.WithTimeout(r.Context(), collaboratorCheckTimeout)
			err := c.HealthCheck(ctx)
			cancel()
			cm := CollaboratorMetrics{Healthy: err == nil}
			if err != nil {
				cm.Error = err.Error()
			}
			metrics.Collaborators[name] = cm
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// addSchemaStatus fills in the applied schema version and the number of
// migrations the binary carries that the database has not applied.
func (s *Server) addSchemaStatus(ctx context.Context, m *DatabaseMetrics) {
	if s.migrations == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, collaboratorCheckTimeout)
	defer cancel()

	applied, pending, err := s.db.MigrationStatus(ctx, s.migrations)
	if err != nil {
		m.MigrationError = err.Error()
		return
	}
	if len(applied) > 0 {
		m.SchemaVersion = applied[len(applied)-1].Version
	}
	m.PendingMigrations = len(pending)
}
