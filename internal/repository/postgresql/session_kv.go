package postgresql

import (
	"context"
	"errors"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

const sessionSchema = `
	CREATE TABLE IF NOT EXISTS session_kv (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (namespace, key)
	)
`

// EnsureSessionSchema creates the session_kv table when missing.
func EnsureSessionSchema(ctx context.Context, db *database.DB) error {
	_, err := db.Exec(ctx, sessionSchema)
	return err
}

type sessionStoreImpl struct {
	db        *database.DB
	namespace string
}

// NewSessionStore returns the Store for one namespace of the session_kv table.
func NewSessionStore(db *database.DB, namespace string) session.Store {
	return &sessionStoreImpl{db: db, namespace: namespace}
}

func NewSessionStoreFactory(db *database.DB) session.StoreFactory {
	return func(namespace string) session.Store {
		return NewSessionStore(db, namespace)
	}
}

func (s *sessionStoreImpl) Get(ctx context.Context, key string) (string, bool, error) {
	q := GetQuerier(ctx, s.db)

	query := `SELECT value FROM session_kv WHERE namespace = $1 AND key = $2`

	var value string
	err := q.QueryRow(ctx, query, s.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

const upsertSessionValue = `
	INSERT INTO session_kv (namespace, key, value, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
`

func (s *sessionStoreImpl) Set(ctx context.Context, key string, value string) error {
	q := GetQuerier(ctx, s.db)
	_, err := q.Exec(ctx, upsertSessionValue, s.namespace, key, value)
	return err
}

func (s *sessionStoreImpl) SetMany(ctx context.Context, values map[string]string, remove ...string) error {
	return WithTransaction(ctx, s.db, func(ctx context.Context) error {
		if err := s.Delete(ctx, remove...); err != nil {
			return err
		}
		for key, value := range values {
			if err := s.Set(ctx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sessionStoreImpl) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q := GetQuerier(ctx, s.db)
	_, err := q.Exec(ctx, `DELETE FROM session_kv WHERE namespace = $1 AND key = ANY($2)`, s.namespace, keys)
	return err
}

func (s *sessionStoreImpl) Clear(ctx context.Context) error {
	q := GetQuerier(ctx, s.db)
	_, err := q.Exec(ctx, `DELETE FROM session_kv WHERE namespace = $1`, s.namespace)
	return err
}
