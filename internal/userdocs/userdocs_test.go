package userdocs

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)

func TestPostgresStore_GetFavorites_Found(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	row := &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*[]string) = []string{"London", "Paris"}
		return nil
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"uid-1"}).Return(row)

	favs, found, err := store.GetFavorites(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"London", "Paris"}, favs)
	db.AssertExpectations(t)
}

func TestPostgresStore_GetFavorites_NotFound(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	favs, found, err := store.GetFavorites(context.Background(), "uid-new")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, favs)
}

func TestPostgresStore_GetFavorites_NullColumn(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error { return nil }})

	favs, found, err := store.GetFavorites(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{}, favs)
}

func TestPostgresStore_GetFavorites_DBError(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, _, err := store.GetFavorites(context.Background(), "uid-1")
	require.Error(t, err)

	var docErr *DocumentError
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "get", docErr.Op)
	assert.Equal(t, "uid-1", docErr.UserID)
}

// TestPostgresStore_SetFavorites_Upsert verifies the write only touches the
// favorites column.
func TestPostgresStore_SetFavorites_Upsert(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "ON CONFLICT (user_id) DO UPDATE") &&
			assert.Contains(t, sql, "SET favorites = EXCLUDED.favorites")
	}), []any{"uid-1", []string{"Tokyo"}}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := store.SetFavorites(context.Background(), "uid-1", []string{"Tokyo"})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPostgresStore_SetFavorites_NilBecomesEmpty(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"uid-1", []string{}}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, store.SetFavorites(context.Background(), "uid-1", nil))
	db.AssertExpectations(t)
}

func TestPostgresStore_SetFavorites_DBError(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	err := store.SetFavorites(context.Background(), "uid-1", []string{"Oslo"})
	var docErr *DocumentError
	require.ErrorAs(t, err, &docErr)
	assert.Equal(t, "set", docErr.Op)
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := new(mockDBTX)
	store := NewPostgresStore(db)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS user_docs")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	require.NoError(t, store.Migrate(context.Background()))
	db.AssertExpectations(t)
}

func TestStores_RejectEmptyUserID(t *testing.T) {
	stores := map[string]Store{
		"memory":   NewMemoryStore(),
		"postgres": NewPostgresStore(new(mockDBTX)),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, _, err := s.GetFavorites(context.Background(), "")
			assert.ErrorIs(t, err, ErrEmptyUserID)
			assert.ErrorIs(t, s.SetFavorites(context.Background(), "", nil), ErrEmptyUserID)
		})
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, found, err := s.GetFavorites(ctx, "uid-1")
	require.NoError(t, err)
	assert.False(t, found)

	input := []string{"London"}
	require.NoError(t, s.SetFavorites(ctx, "uid-1", input))
	input[0] = "mutated"

	favs, found, err := s.GetFavorites(ctx, "uid-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"London"}, favs)

	require.NoError(t, s.SetFavorites(ctx, "uid-1", nil))
	favs, found, _ = s.GetFavorites(ctx, "uid-1")
	assert.True(t, found)
	assert.Empty(t, favs)
}
