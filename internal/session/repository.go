package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the side of the relay a connection belongs to.
type Role string

// Connection roles.
const (
	RoleDevice Role = "device"
	RoleApp    Role = "app"
)

// Outcome records whether a connection passed admission.
type Outcome string

// Admission outcomes.
const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeRejected Outcome = "rejected"
)

// Session is one connection's lifetime.
type Session struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	Outcome     Outcome    `json:"outcome"`
	TokenFP     string     `json:"token_fp"`
	MAC         string     `json:"mac"`
	HomeID      string     `json:"home_id,omitempty"`
	RemoteAddr  string     `json:"remote_addr,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseCode   *int       `json:"close_code,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
}

// Filter controls which sessions List returns.
type Filter struct {
	TokenFP string // required: sessions are always scoped to one token
	MAC     string // optional, normalised MAC
	Role    Role   // optional
	Limit   int    // default 50, max 500
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Repository stores sessions.
type Repository interface {
	Open(ctx context.Context, s *Session) error
	Close(ctx context.Context, id string, code int, reason string, at time.Time) error
	List(ctx context.Context, filter Filter) ([]Session, error)
}

// SQLiteRepository keeps sessions in the sessions table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Open inserts s. ID, OpenedAt and Outcome are filled in when empty.
// Rejected sessions should arrive with ClosedAt and CloseCode already set.
func (r *SQLiteRepository) Open(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.OpenedAt.IsZero() {
		s.OpenedAt = time.Now().UTC()
	}
	if s.Outcome == "" {
		s.Outcome = OutcomeAdmitted
	}

	var closedAt, closeCode any
	if s.ClosedAt != nil {
		closedAt = formatTime(*s.ClosedAt)
	}
	if s.CloseCode != nil {
		closeCode = *s.CloseCode
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, role, outcome, token_fp, mac, home_id, remote_addr, opened_at, closed_at, close_code, close_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Role), string(s.Outcome), s.TokenFP, s.MAC,
		nullableString(s.HomeID), nullableString(s.RemoteAddr),
		formatTime(s.OpenedAt), closedAt, closeCode, nullableString(s.CloseReason),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Close stamps the end of an open session.
func (r *SQLiteRepository) Close(ctx context.Context, id string, code int, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ?, close_code = ?, close_reason = ? WHERE id = ? AND closed_at IS NULL`,
		formatTime(at), code, nullableString(reason), id,
	)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the token's sessions, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Session, error) {
	if filter.TokenFP == "" {
		return nil, fmt.Errorf("listing sessions: token fingerprint is required")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	conditions := []string{"token_fp = ?"}
	args := []any{filter.TokenFP}
	if filter.MAC != "" {
		conditions = append(conditions, "mac = ?")
		args = append(args, filter.MAC)
	}
	if filter.Role != "" {
		conditions = append(conditions, "role = ?")
		args = append(args, string(filter.Role))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, role, outcome, token_fp, mac, home_id, remote_addr, opened_at, closed_at, close_code, close_reason
		 FROM sessions WHERE %s ORDER BY opened_at DESC LIMIT ?`,
		strings.Join(conditions, " AND "),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(rows *sql.Rows) (Session, error) {
	var (
		s                       Session
		role, outcome, openedAt string
		homeID, remoteAddr      sql.NullString
		closedAt, closeReason   sql.NullString
		closeCode               sql.NullInt64
	)
	if err := rows.Scan(&s.ID, &role, &outcome, &s.TokenFP, &s.MAC,
		&homeID, &remoteAddr, &openedAt, &closedAt, &closeCode, &closeReason); err != nil {
		return Session{}, fmt.Errorf("scanning session: %w", err)
	}

	s.Role = Role(role)
	s.Outcome = Outcome(outcome)
	s.HomeID = homeID.String
	s.RemoteAddr = remoteAddr.String
	s.CloseReason = closeReason.String

	t, err := time.Parse(time.RFC3339Nano, openedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing session timestamp %q: %w", openedAt, err)
	}
	s.OpenedAt = t

	if closedAt.Valid {
		ct, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parsing session timestamp %q: %w", closedAt.String, err)
		}
		s.ClosedAt = &ct
	}
	if closeCode.Valid {
		code := int(closeCode.Int64)
		s.CloseCode = &code
	}
	return s, nil
}

// formatTime renders t with fixed-width nanoseconds so the column sorts
// lexically in time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
