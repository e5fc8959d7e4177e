// Package persist converts pending changes of a model.Model into ordered
// write statements, executes them against a source.DataContainer, and
// reflects their outcomes back into the Model.
//
// A commit run moves through the states of its Plan:
//
//	PLANNING -> EXECUTING -> (COMMITTED | PARTIALLY_FAILED) -> REFLECTING -> DONE
//
// Statements execute in order DELETE, INSERT, UPDATE. The first failing
// statement aborts the remainder of the run. Statements which executed are
// reflected into the Model even when the run fails. An UPDATE or DELETE
// which matched no row fails with ErrNoRowsAffected.
package persist

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/metrics"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// Listener is notified of the outcome of ApplyChanges.
type Listener func(plan *Plan, err error)

// Persister persists pending changes of a Model to a DataContainer.
type Persister struct {
	// UnreflectRolledBack clears the Executed flags and counters of a run
	// whose failure was rolled back to its savepoint, so that the Model
	// keeps every change of the run pending. By default statements which
	// executed before the failure are reflected.
	UnreflectRolledBack bool

	container source.DataContainer
	model     *model.Model
}

// ErrNoRowsAffected is the cause of an UPDATE or DELETE whose key predicate
// matched no row of the entity.
var ErrNoRowsAffected = errors.New("statement affected no rows")

// New returns a Persister of the Model and DataContainer.
func New(container source.DataContainer, m *model.Model) *Persister {
	return &Persister{container: container, model: m}
}

// Plan the pending changes of the Model. No statement is executed, and the
// Model is not modified. A *model.IdentifierAmbiguityError is returned if a
// change addresses an entity having no usable identifier.
func (p *Persister) Plan() (*Plan, error) { return plan(p.model) }

// Execute the StatementBatches of |plan| within a new persist Session.
// Execute reads the Model's attributes, but not its rows, and may run
// concurrently with readers of the Model. The error of the first failing
// statement is returned.
func (p *Persister) Execute(ctx context.Context, plan *Plan) error {
	plan.State = Executing
	var started = time.Now()

	var sess, err = p.container.OpenSession(ctx, source.PurposePersist)
	if err != nil {
		plan.State = PartiallyFailed
		metrics.CommitsTotal.WithLabelValues(plan.State.String()).Inc()
		return errors.WithMessage(err, "opening persist session")
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.WithFields(log.Fields{"run": plan.RunID, "err": err}).Warn("failed to close persist session")
		}
	}()

	var savepoint *source.Savepoint
	if !sess.AutoCommit() && sess.SupportsSavepoints() {
		if sp, err := sess.SetSavepoint(ctx); err != nil {
			log.WithFields(log.Fields{"run": plan.RunID, "err": err}).Warn("failed to set savepoint; continuing without")
		} else {
			savepoint = &sp
		}
	}

	var failure error
	for _, stmt := range plan.Statements {
		if err = ctx.Err(); err != nil {
			failure = err
			break
		}
		if err = p.execute(ctx, sess, plan, stmt); err != nil {
			stmt.Err = &model.StatementExecutionError{Statement: stmt.String(), Err: err}
			failure = stmt.Err
			metrics.StatementsTotal.WithLabelValues(stmt.Kind.String(), metrics.Fail).Inc()
			break
		}
		stmt.Executed = true
		plan.Counters.add(stmt.Kind)
		metrics.StatementsTotal.WithLabelValues(stmt.Kind.String(), metrics.Ok).Inc()
	}

	// Savepoint operations must complete even if |ctx| was cancelled.
	var finishCtx = context.WithoutCancel(ctx)

	if failure != nil {
		plan.State = PartiallyFailed
		if savepoint != nil {
			p.rollback(finishCtx, sess, plan, *savepoint)
		}
	} else {
		plan.State = Committed
		if savepoint != nil {
			if err = sess.ReleaseSavepoint(finishCtx, *savepoint); err != nil {
				log.WithFields(log.Fields{"run": plan.RunID, "err": err}).Warn("failed to release savepoint")
			}
		}
	}
	metrics.CommitsTotal.WithLabelValues(plan.State.String()).Inc()

	log.WithFields(log.Fields{
		"run":      plan.RunID,
		"state":    plan.State,
		"deleted":  plan.Counters.Deleted,
		"inserted": plan.Counters.Inserted,
		"updated":  plan.Counters.Updated,
		"elapsed":  time.Since(started),
		"err":      failure,
	}).Info("executed commit run")

	return failure
}

func (p *Persister) execute(ctx context.Context, sess source.Session, plan *Plan, stmt *StatementBatch) error {
	var count int64
	var err error

	switch stmt.Kind {
	case Delete:
		count, err = p.container.DeleteData(ctx, sess, stmt.Entity.Name, stmt.Keys)
	case Insert:
		var keys = NewKeyDataReceiver(stmt, p.model.Attributes())
		count, err = p.container.InsertData(ctx, sess, stmt.Entity.Name, stmt.Values, keys)
	case Update:
		var keys = NewKeyDataReceiver(stmt, p.model.Attributes())
		count, err = p.container.UpdateData(ctx, sess, stmt.Entity.Name, stmt.Keys, stmt.Values, keys)
	default:
		err = errors.Errorf("unexpected statement kind %s", stmt.Kind)
	}
	if err != nil {
		return err
	}

	if count == 0 && stmt.Kind != Insert {
		return ErrNoRowsAffected
	}
	log.WithFields(log.Fields{
		"run":       plan.RunID,
		"statement": stmt.String(),
		"count":     count,
	}).Debug("executed statement")
	return nil
}

// rollback to the run's savepoint. Statements executed earlier in the run
// remain Executed unless UnreflectRolledBack is set.
func (p *Persister) rollback(ctx context.Context, sess source.Session, plan *Plan, sp source.Savepoint) {
	if err := sess.RollbackTo(ctx, sp); err != nil {
		metrics.SavepointRollbacksTotal.WithLabelValues(metrics.Fail).Inc()
		log.WithFields(log.Fields{
			"run":       plan.RunID,
			"savepoint": sp.Name,
			"err":       err,
		}).Warn("failed to roll back to savepoint; executed statements remain applied")
		return
	}
	metrics.SavepointRollbacksTotal.WithLabelValues(metrics.Ok).Inc()

	if !p.UnreflectRolledBack {
		return
	}
	for _, stmt := range plan.Statements {
		stmt.Executed, stmt.Returned = false, nil
	}
	plan.Counters = Counters{}
}

// Reflect the executed StatementBatches of |plan| into the Model. Inserted
// rows become NORMAL, updated cells are no longer changed, and deleted rows
// are removed. Server-returned values overwrite those of the Model.
// Statements which did not execute are untouched, and remain pending.
func (p *Persister) Reflect(plan *Plan) {
	plan.State = Reflecting
	var deleted []int

	for _, stmt := range plan.Statements {
		if !stmt.Executed {
			continue
		}
		var row = p.model.Row(stmt.Row)

		switch {
		case row == nil:
			log.WithFields(log.Fields{"run": plan.RunID, "row": stmt.Row}).Warn("reflected row no longer exists")
		case stmt.Kind == Delete && row.State == model.RowRemoved:
			deleted = append(deleted, stmt.Row)
		case stmt.Kind == Insert && row.State == model.RowAdded:
			p.model.AcceptInsert(stmt.Row, stmt.Returned)
		case stmt.Kind == Update && row.State == model.RowNormal:
			p.model.AcceptUpdate(stmt.Row, stmt.positions(), stmt.Returned)
		default:
			log.WithFields(log.Fields{
				"run":       plan.RunID,
				"statement": stmt.String(),
				"state":     row.State,
			}).Warn("reflected row has an unexpected state")
		}
	}
	p.model.RemoveRows(deleted)
	plan.State = Done
}

// ApplyChanges plans, executes, and reflects the pending changes of the
// Model. It returns the error of planning or of the first failing
// statement. |listener| may be nil.
func (p *Persister) ApplyChanges(ctx context.Context, listener Listener) error {
	var plan, err = p.Plan()
	if err == nil && len(plan.Statements) != 0 {
		err = p.Execute(ctx, plan)
		p.Reflect(plan)
	}
	if listener != nil {
		listener(plan, err)
	}
	return err
}

// RejectChanges discards all pending changes of the Model.
func (p *Persister) RejectChanges() { p.model.RejectChanges() }
