// Package sqlsource implements the source contract over "database/sql",
// for SQLite and PostgreSQL databases.
//
// A Source wraps a *sql.DB. Its containers are a Table, which reads and
// writes rows of one entity, and a Query, which reads the rows of free-form
// query text. Read sessions use a dedicated connection of the pool.
// Persist sessions either execute each statement on its own (the default),
// or, if the Source is in ManualCommit mode, within one transaction shared
// by all persist sessions of the Source which is ended by Commit or
// Rollback. Only sessions of a transaction support savepoints.
package sqlsource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// ErrReadOnlyContainer is returned by writes of a read-only container.
var ErrReadOnlyContainer = errors.New("container is read-only")

// Source is a database of a Dialect.
type Source struct {
	DB      *sql.DB
	Dialect Dialect
	// ManualCommit shares one transaction across persist sessions, which
	// is ended by Commit or Rollback.
	ManualCommit bool
	// Metadata caches described entities. If nil, entities are described
	// on every request.
	Metadata *MetadataCache

	mu         sync.Mutex
	txn        *sql.Tx
	savepoints int
}

var _ source.MetadataProvider = (*Source)(nil)

// NewSource returns a Source of the *DB, having a MetadataCache.
func NewSource(db *sql.DB, dialect Dialect) *Source {
	return &Source{
		DB:       db,
		Dialect:  dialect,
		Metadata: NewMetadataCache(256, 5*time.Minute),
	}
}

// Open and ping a database of the Dialect.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Source, error) {
	var db, err = sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s database", dialect)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WithMessagef(err, "connecting to %s database", dialect)
	}
	return NewSource(db, dialect), nil
}

// Table returns a Table container of the named entity.
func (s *Source) Table(name model.EntityName) *Table {
	return &Table{src: s, Entity: name}
}

// Query returns a read-only container of the query |text|.
func (s *Source) Query(text string) *Query {
	return &Query{src: s, Text: text}
}

// DescribeEntity implements source.MetadataProvider.
func (s *Source) DescribeEntity(ctx context.Context, name model.EntityName) (*model.EntityMeta, error) {
	if s.Metadata != nil {
		if meta, ok := s.Metadata.Get(name); ok {
			return meta, nil
		}
	}
	var meta, err = s.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.Metadata != nil {
		s.Metadata.Put(name, meta)
	}
	return meta, nil
}

// InTransaction returns true if a ManualCommit transaction is open.
func (s *Source) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn != nil
}

// Commit the open ManualCommit transaction, if any.
func (s *Source) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txn == nil {
		return nil
	}
	var err = s.txn.Commit()
	s.txn, s.savepoints = nil, 0

	log.WithField("err", err).Info("committed transaction")
	return errors.WithMessage(err, "committing transaction")
}

// Rollback the open ManualCommit transaction, if any.
func (s *Source) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txn == nil {
		return nil
	}
	var err = s.txn.Rollback()
	s.txn, s.savepoints = nil, 0

	log.WithField("err", err).Info("rolled back transaction")
	return errors.WithMessage(err, "rolling back transaction")
}

// Close rolls back an open transaction, and closes the *DB.
func (s *Source) Close() error {
	if err := s.Rollback(); err != nil {
		log.WithField("err", err).Warn("failed to roll back transaction on close")
	}
	return s.DB.Close()
}

// transaction returns or (if not already begun) begins the ManualCommit
// transaction.
func (s *Source) transaction(ctx context.Context) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txn == nil {
		// The transaction outlives the session which began it, and must
		// not be rolled back when that session's context is done.
		var txn, err = s.DB.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return nil, errors.WithMessage(err, "beginning transaction")
		}
		s.txn = txn
	}
	return s.txn, nil
}

func (s *Source) nextSavepoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.savepoints++
	return fmt.Sprintf("rowset_sp%d", s.savepoints)
}

func (s *Source) openSession(ctx context.Context, purpose source.Purpose) (source.Session, error) {
	if purpose == source.PurposePersist && s.ManualCommit {
		var txn, err = s.transaction(ctx)
		if err != nil {
			return nil, err
		}
		return &session{src: s, purpose: purpose, q: txn, manual: true}, nil
	}

	var conn, err = s.DB.Conn(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s session", purpose)
	}
	return &session{src: s, purpose: purpose, q: conn, conn: conn}, nil
}

// argValue converts the value of an AttributeValue into a driver argument.
func argValue(v source.AttributeValue) (interface{}, error) {
	switch vv := v.Value.(type) {
	case map[string]interface{}, []interface{}:
		var b, err = json.Marshal(vv)
		if err != nil {
			return nil, errors.WithMessagef(err, "encoding %s", v.Attribute)
		}
		return string(b), nil
	default:
		if model.IsUndefined(vv) {
			return nil, errors.Errorf("%s has an undefined value", v.Attribute)
		}
		return vv, nil
	}
}
