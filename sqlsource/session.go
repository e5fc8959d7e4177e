package sqlsource

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.rowset.dev/core/source"
)

// queryer is implemented by *sql.Conn and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ErrNoTransaction is returned by savepoint operations of an autocommit
// session.
var ErrNoTransaction = errors.New("session has no transaction")

type session struct {
	src     *Source
	purpose source.Purpose
	q       queryer
	// conn is held by autocommit sessions, and is nil for sessions of the
	// shared ManualCommit transaction.
	conn   *sql.Conn
	manual bool
}

func (s *session) AutoCommit() bool         { return !s.manual }
func (s *session) SupportsSavepoints() bool { return s.manual }

func (s *session) SetSavepoint(ctx context.Context) (source.Savepoint, error) {
	if !s.manual {
		return source.Savepoint{}, ErrNoTransaction
	}
	var sp = source.Savepoint{Name: s.src.nextSavepoint()}

	if _, err := s.q.ExecContext(ctx, "SAVEPOINT "+sp.Name); err != nil {
		return source.Savepoint{}, errors.WithMessagef(err, "setting savepoint %s", sp.Name)
	}
	return sp, nil
}

func (s *session) ReleaseSavepoint(ctx context.Context, sp source.Savepoint) error {
	if !s.manual {
		return ErrNoTransaction
	}
	var _, err = s.q.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.Name)
	return errors.WithMessagef(err, "releasing savepoint %s", sp.Name)
}

func (s *session) RollbackTo(ctx context.Context, sp source.Savepoint) error {
	if !s.manual {
		return ErrNoTransaction
	}
	var _, err = s.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.Name)
	return errors.WithMessagef(err, "rolling back to savepoint %s", sp.Name)
}

// Close returns the session's connection to the pool. A ManualCommit
// transaction remains open.
func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func sessionOf(s source.Session, src *Source) (*session, error) {
	if ss, ok := s.(*session); ok && ss.src == src {
		return ss, nil
	}
	return nil, errors.Errorf("session %T was not opened by this source", s)
}
