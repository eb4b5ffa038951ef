package userdocs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool and pgx.Tx used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS user_docs (
	user_id    TEXT PRIMARY KEY,
	favorites  TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps user documents in the user_docs table.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a PostgresStore backed by a pool or transaction.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_docs table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return &DocumentError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *PostgresStore) GetFavorites(ctx context.Context, userID string) ([]string, bool, error) {
	if userID == "" {
		return nil, false, &DocumentError{Op: "get", Err: ErrEmptyUserID}
	}
	var favs []string
	err := s.db.QueryRow(ctx,
		`SELECT favorites FROM user_docs WHERE user_id = $1`,
		userID,
	).Scan(&favs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &DocumentError{Op: "get", UserID: userID, Err: err}
	}
	if favs == nil {
		favs = []string{}
	}
	return favs, true, nil
}

// SetFavorites upserts the favorites column only.
func (s *PostgresStore) SetFavorites(ctx context.Context, userID string, favorites []string) error {
	if userID == "" {
		return &DocumentError{Op: "set", Err: ErrEmptyUserID}
	}
	if favorites == nil {
		favorites = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_docs (user_id, favorites)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET favorites = EXCLUDED.favorites, updated_at = NOW()`,
		userID, favorites,
	)
	if err != nil {
		return &DocumentError{Op: "set", UserID: userID, Err: err}
	}
	return nil
}
