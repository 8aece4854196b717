package accesslog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/internal/testutil/sqlitetest"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, db *sql.DB, id, email string) {
	t.Helper()
	ts := database.FormatTime(base)
	_, err := db.Exec(`INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, email, ts, ts)
	require.NoError(t, err)
}

func seedEntries(t *testing.T) *SQLiteRepository {
	t.Helper()
	db := sqlitetest.Open(t)
	seedUser(t, db, "u1", "ana@example.com")
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	entries := []Entry{
		{UserID: "u1", Path: "/api/v1/auth/me", Method: "GET", ClientSource: "web-dashboard", StatusCode: 200, CreatedAt: base},
		{UserID: "u1", Path: "/api/v1/sync/settings", Method: "PATCH", ClientSource: "macos-app", StatusCode: 409, CreatedAt: base.Add(time.Hour)},
		{Path: "/api/v1/auth/login", Method: "POST", ClientSource: "macos-app", StatusCode: 401, CreatedAt: base.Add(24 * time.Hour)},
		{UserID: "u1", Path: "/api/v1/sessions", Method: "GET", StatusCode: 200, CreatedAt: base.Add(25 * time.Hour)},
	}
	for i := range entries {
		require.NoError(t, repo.Insert(ctx, &entries[i]))
		assert.NotEmpty(t, entries[i].ID)
	}
	return repo
}

func TestList_NewestFirstWithEmail(t *testing.T) {
	repo := seedEntries(t)

	res, err := repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, DefaultPerPage, res.PerPage)
	require.Len(t, res.Logs, 4)

	assert.Equal(t, "/api/v1/sessions", res.Logs[0].Path)
	assert.Equal(t, "unknown", res.Logs[0].ClientSource)
	assert.Equal(t, "ana@example.com", res.Logs[0].UserEmail)
	assert.Empty(t, res.Logs[1].UserEmail, "anonymous request")
	assert.Equal(t, base, res.Logs[3].CreatedAt)
}

func TestList_Filters(t *testing.T) {
	repo := seedEntries(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by source", Filter{ClientSource: "macos-app"}, 2},
		{"by status", Filter{StatusCode: 200}, 2},
		{"by user", Filter{UserID: "u1"}, 3},
		{"from", Filter{From: base.Add(24 * time.Hour)}, 2},
		{"to is exclusive", Filter{To: base.Add(time.Hour)}, 1},
		{"combined", Filter{UserID: "u1", ClientSource: "macos-app", StatusCode: 409}, 1},
		{"no match", Filter{ClientSource: "cli"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Total)
			assert.Len(t, res.Logs, tt.want)
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := seedEntries(t)
	ctx := context.Background()

	res, err := repo.List(ctx, Filter{Page: 2, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "/api/v1/auth/me", res.Logs[0].Path)

	res, err = repo.List(ctx, Filter{Page: -4, PerPage: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, MaxPerPage, res.PerPage)
}

func TestDailyCounts(t *testing.T) {
	repo := seedEntries(t)

	counts, err := repo.DailyCounts(context.Background(), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []DailyCount{
		{Date: "2026-03-01", ClientSource: "macos-app", Count: 1},
		{Date: "2026-03-01", ClientSource: "web-dashboard", Count: 1},
		{Date: "2026-03-02", ClientSource: "macos-app", Count: 1},
		{Date: "2026-03-02", ClientSource: "unknown", Count: 1},
	}, counts)

	counts, err = repo.DailyCounts(context.Background(), base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestList_CountFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("database is locked"))
	mock.ExpectQuery("SELECT l.id").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewSQLiteRepository(db).List(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counting access logs")
}
