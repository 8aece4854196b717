package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// Page size limits for List.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Entry is one recorded request.
type Entry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	Path         string    `json:"path"`
	Method       string    `json:"method"`
	ClientSource string    `json:"client_source"`
	StatusCode   int       `json:"status_code"`
	DurationMs   int64     `json:"duration_ms"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter controls which entries List returns. Zero values do not filter.
type Filter struct {
	ClientSource string
	StatusCode   int
	UserID       string
	From         time.Time // inclusive
	To           time.Time // exclusive
	Page         int       // 1-based
	PerPage      int
}

// ListResult is one page of entries.
type ListResult struct {
	Logs    []Entry `json:"logs"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// DailyCount is the number of requests from one client source on one UTC day.
type DailyCount struct {
	Date         string `json:"date"`
	ClientSource string `json:"client_source"`
	Count        int    `json:"count"`
}

// Repository stores access log entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*ListResult, error)
	DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error)
}

// SQLiteRepository implements Repository on api_access_logs.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an access log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores e. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Insert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ClientSource == "" {
		e.ClientSource = "unknown"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_access_logs
		 (id, user_id, path, method, client_source, status_code, duration_ms, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(e.UserID), e.Path, e.Method, e.ClientSource,
		e.StatusCode, e.DurationMs, nullableString(e.IPAddress), database.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting access log: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching f, newest first, with the total match count.
// The count and the page are read concurrently.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage <= 0 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}

	var conditions []string
	var args []any
	if f.ClientSource != "" {
		conditions = append(conditions, "l.client_source = ?")
		args = append(args, f.ClientSource)
	}
	if f.StatusCode != 0 {
		conditions = append(conditions, "l.status_code = ?")
		args = append(args, f.StatusCode)
	}
	if f.UserID != "" {
		conditions = append(conditions, "l.user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "l.created_at >= ?")
		args = append(args, database.FormatTime(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "l.created_at < ?")
		args = append(args, database.FormatTime(f.To))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	logs := []Entry{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		countQuery := "SELECT COUNT(*) FROM api_access_logs l " + where //nolint:gosec // WHERE built from parameterised conditions
		if err := r.db.QueryRowContext(gctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("counting access logs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `SELECT l.id, l.user_id, u.email, l.path, l.method, l.client_source,
			l.status_code, l.duration_ms, l.ip_address, l.created_at
			FROM api_access_logs l LEFT JOIN users u ON u.id = l.user_id ` + where + //nolint:gosec // WHERE built from parameterised conditions
			` ORDER BY l.created_at DESC, l.rowid DESC LIMIT ? OFFSET ?`
		pageArgs := append(append([]any{}, args...), f.PerPage, (f.Page-1)*f.PerPage)

		rows, err := r.db.QueryContext(gctx, query, pageArgs...)
		if err != nil {
			return fmt.Errorf("querying access logs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			logs = append(logs, *e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating access logs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ListResult{Logs: logs, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var userID, email, ip sql.NullString
	var createdAt string
	if err := rows.Scan(&e.ID, &userID, &email, &e.Path, &e.Method, &e.ClientSource,
		&e.StatusCode, &e.DurationMs, &ip, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning access log: %w", err)
	}
	e.UserID, e.UserEmail, e.IPAddress = userID.String, email.String, ip.String

	t, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = t
	return &e, nil
}

// DailyCounts groups requests made at or after since by UTC date and client
// source, oldest day first.
func (r *SQLiteRepository) DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT substr(created_at, 1, 10) AS day, client_source, COUNT(*)
		FROM api_access_logs
		WHERE created_at >= ?
		GROUP BY day, client_source
		ORDER BY day, client_source`, database.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("counting daily access: %w", err)
	}
	defer rows.Close()

	out := []DailyCount{}
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.ClientSource, &dc.Count); err != nil {
			return nil, fmt.Errorf("scanning daily count: %w", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating daily counts: %w", err)
	}
	return out, nil
}
