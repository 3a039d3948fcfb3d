package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
)

type sessionStoreImpl struct {
	db        *sql.DB
	namespace string
}

// NewSessionStore returns the Store for one namespace of the session_kv table.
func NewSessionStore(db *sql.DB, namespace string) session.Store {
	return &sessionStoreImpl{db: db, namespace: namespace}
}

// NewSessionStoreFactory binds a factory to db.
func NewSessionStoreFactory(db *sql.DB) session.StoreFactory {
	return func(namespace string) session.Store {
		return NewSessionStore(db, namespace)
	}
}

func (s *sessionStoreImpl) Get(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT value FROM session_kv WHERE namespace = ? AND key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

const upsertQuery = `
	INSERT INTO session_kv (namespace, key, value, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

const deleteQuery = `DELETE FROM session_kv WHERE namespace = ? AND key = ?`

func (s *sessionStoreImpl) Set(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, upsertQuery, s.namespace, key, value)
	return err
}

func (s *sessionStoreImpl) SetMany(ctx context.Context, values map[string]string, remove ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, key := range remove {
		if _, err := tx.ExecContext(ctx, deleteQuery, s.namespace, key); err != nil {
			return err
		}
	}
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, upsertQuery, s.namespace, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sessionStoreImpl) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, deleteQuery, s.namespace, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sessionStoreImpl) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_kv WHERE namespace = ?`, s.namespace)
	return err
}
