// Package resultset runs the background jobs of one result-set session:
// paged reads, row counts, and commits of pending changes.
//
// A Controller owns the session's Model. At most one read or persist job is
// in flight at a time, and a request to start another is rejected with
// ErrJobInFlight rather than queued. Jobs never mutate the Model as they
// run: a read buffers its result and delivers it into the Model once it
// completes, and a persist job reflects its outcome into the Model once its
// statements have executed. Callers access the Model through View and
// Update, which serialize with deliveries.
package resultset

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/identifier"
	"go.rowset.dev/core/metrics"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/persist"
	"go.rowset.dev/core/receiver"
	"go.rowset.dev/core/source"
	"golang.org/x/sync/errgroup"
)

// Errors returned by Controller operations.
var (
	ErrJobInFlight    = errors.New("a read or persist job is already in flight")
	ErrForceCancelled = errors.New("job did not stop after cancellation, and was abandoned")
)

type jobKind int

const (
	readJob jobKind = iota
	persistJob
)

func (k jobKind) String() string {
	if k == persistJob {
		return "persist"
	}
	return "read"
}

type job struct {
	kind   jobKind
	cancel context.CancelFunc
	op     *AsyncOperation
	// abandoned is set by the cancellation watchdog. An abandoned job
	// neither delivers its result nor resolves its OpFuture.
	abandoned bool
}

// Controller runs jobs of a DataContainer over a Model.
type Controller struct {
	cfg       Config
	container source.DataContainer
	resolver  *identifier.Resolver

	mu        sync.Mutex
	model     *model.Model
	persister *persist.Persister
	job       *job
	counting  bool

	hasMore   bool
	warnings  []error
	stats     source.Statistics
	rowCount  int64
	singleRow bool
}

// NewController returns a Controller of the DataContainer. |metadata|
// describes entities of read results, and |keys| holds their virtual
// identifiers. Either may be nil.
func NewController(cfg Config, container source.DataContainer, metadata source.MetadataProvider, keys identifier.VirtualKeyStore) *Controller {
	var m = model.NewModel(model.NewLRUFilterHistory(64, 10))
	m.SetHistoryKey(container.Name())

	var resolver = &identifier.Resolver{
		VirtualKeys:        keys,
		UseAllColumnsAsKey: cfg.UseAllColumnsAsKeyByDefault,
	}
	if cfg.ReadMetadata {
		resolver.Metadata = metadata
	}

	var persister = persist.New(container, m)
	persister.UnreflectRolledBack = cfg.UnreflectRolledBack

	return &Controller{
		cfg:       cfg,
		container: container,
		resolver:  resolver,
		model:     m,
		persister: persister,
		rowCount:  -1,
	}
}

// Refresh starts a read of the first page of the container, which replaces
// the Model's attributes and rows. Pending changes are discarded.
func (c *Controller) Refresh(ctx context.Context) OpFuture {
	return c.startRead(ctx, false)
}

// ReadNextSegment starts a read of the page following the rows already
// read, which is appended to the Model. It resolves immediately if the
// last page read was not full.
func (c *Controller) ReadNextSegment(ctx context.Context) OpFuture {
	return c.startRead(ctx, true)
}

func (c *Controller) startRead(ctx context.Context, segment bool) OpFuture {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil {
		return FinishedOperation(ErrJobInFlight)
	} else if segment && !c.hasMore {
		return FinishedOperation(nil)
	}

	var d = new(delivery)
	var r = receiver.New(receiver.Config{
		ReadMetadata:   c.cfg.ReadMetadata,
		ReadReferences: c.cfg.ReadReferences,
	}, c.resolver, d)

	var flags source.ReadFlags
	var offset int

	if !c.cfg.ReadMetadata {
		flags |= source.FlagNoMetadata
	}
	if segment {
		flags |= source.FlagSegment
		offset = c.fetchedRows()
		r.Continue(c.model.Attributes())
	} else if c.model.IsDirty() {
		log.WithField("container", c.container.Name()).Info("refresh discards pending changes")
	}

	var jobCtx, cancel = context.WithCancel(ctx)
	var j = &job{kind: readJob, cancel: cancel, op: NewAsyncOperation()}
	c.job = j

	go c.runRead(jobCtx, j, r, d, c.model.DataFilter().Clone(), offset, flags)
	return j.op
}

// fetchedRows is the number of rows of the Model known to the server.
func (c *Controller) fetchedRows() int {
	var n int
	for _, r := range c.model.Rows() {
		if r.State != model.RowAdded {
			n++
		}
	}
	return n
}

func (c *Controller) runRead(ctx context.Context, j *job, r *receiver.Receiver, d *delivery,
	filter *model.DataFilter, offset int, flags source.ReadFlags) {

	defer j.cancel()
	defer r.Close()

	var started = time.Now()
	var stats, err = c.read(ctx, r, filter, offset, flags)
	metrics.ReadDurationSeconds.Observe(time.Since(started).Seconds())

	c.mu.Lock()
	if j.abandoned {
		c.mu.Unlock()
		log.WithFields(log.Fields{
			"container": c.container.Name(),
			"err":       err,
		}).Info("abandoned read job completed; discarding its result")
		return
	}
	c.job = nil

	if err == nil {
		d.deliver(c.model)
		c.hasMore, c.stats = r.HasMoreData(), stats

		if flags&source.FlagSegment != 0 {
			c.warnings = append(c.warnings, r.Warnings()...)
		} else {
			c.warnings = r.Warnings()
			c.singleRow = c.cfg.AutoSwitchSingleRowMode && c.model.RowCount() == 1
		}
		metrics.ReadsTotal.WithLabelValues(metrics.Ok).Inc()
	} else {
		metrics.ReadsTotal.WithLabelValues(metrics.Fail).Inc()
	}
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"container": c.container.Name(),
		"offset":    offset,
		"rows":      stats.RowsFetched,
		"warnings":  len(r.Warnings()),
		"hasMore":   r.HasMoreData(),
		"elapsed":   time.Since(started),
		"err":       err,
	}).Info("read job completed")

	j.op.Resolve(err)
}

func (c *Controller) read(ctx context.Context, r *receiver.Receiver, filter *model.DataFilter,
	offset int, flags source.ReadFlags) (source.Statistics, error) {

	var sess, err = c.container.OpenSession(ctx, source.PurposeRead)
	if err != nil {
		return source.Statistics{}, errors.WithMessage(err, "opening read session")
	}
	defer closeSession(sess)

	return c.container.ReadData(ctx, sess, r, filter, offset, c.cfg.SegmentSize, flags)
}

// CountRows starts a count of the container's rows matching the current
// DataFilter. A count may run alongside a read or persist job, but only
// one count runs at a time.
func (c *Controller) CountRows(ctx context.Context) *CountFuture {
	c.mu.Lock()
	defer c.mu.Unlock()

	var f = &CountFuture{AsyncOperation: NewAsyncOperation()}
	if c.counting {
		f.Resolve(ErrJobInFlight)
		return f
	}
	c.counting = true
	var filter = c.model.DataFilter().Clone()

	go func() {
		var n, err = c.count(ctx, filter)

		c.mu.Lock()
		c.counting = false
		if err == nil {
			c.rowCount = n
		}
		c.mu.Unlock()

		f.count = n
		f.Resolve(err)
	}()
	return f
}

func (c *Controller) count(ctx context.Context, filter *model.DataFilter) (int64, error) {
	var sess, err = c.container.OpenSession(ctx, source.PurposeCount)
	if err != nil {
		return 0, errors.WithMessage(err, "opening count session")
	}
	defer closeSession(sess)

	return c.container.CountData(ctx, sess, filter)
}

// RefreshAndCount starts a Refresh and a CountRows together. The returned
// OpFuture resolves when both complete, with the first error of either.
func (c *Controller) RefreshAndCount(ctx context.Context) OpFuture {
	var read, count = c.Refresh(ctx), c.CountRows(ctx)
	var op = NewAsyncOperation()

	go func() {
		var g errgroup.Group
		g.Go(read.Err)
		g.Go(count.Err)
		op.Resolve(g.Wait())
	}()
	return op
}

// ApplyChanges starts a commit of the Model's pending changes. Changes are
// planned immediately, and an *model.IdentifierAmbiguityError is returned
// through a resolved OpFuture if a change has no usable identifier.
// |listener| is notified of the outcome, and may be nil.
func (c *Controller) ApplyChanges(ctx context.Context, listener persist.Listener) OpFuture {
	c.mu.Lock()

	if c.job != nil {
		c.mu.Unlock()
		return FinishedOperation(ErrJobInFlight)
	}
	var plan, err = c.persister.Plan()
	if err != nil || len(plan.Statements) == 0 {
		c.mu.Unlock()
		if listener != nil {
			listener(plan, err)
		}
		return FinishedOperation(err)
	}

	var jobCtx, cancel = context.WithCancel(ctx)
	var j = &job{kind: persistJob, cancel: cancel, op: NewAsyncOperation()}
	c.job = j
	c.mu.Unlock()

	go func() {
		defer cancel()
		// Execute reads the Model's attributes, which are unchanged while a
		// persist job is in flight, but not its rows.
		var err = c.persister.Execute(jobCtx, plan)

		c.mu.Lock()
		c.persister.Reflect(plan)
		c.job = nil
		c.mu.Unlock()

		if listener != nil {
			listener(plan, err)
		}
		if err == nil && c.cfg.RefreshAfterUpdate {
			if rerr := c.Refresh(ctx).Err(); rerr != nil {
				log.WithFields(log.Fields{
					"container": c.container.Name(),
					"err":       rerr,
				}).Warn("failed to refresh after update")
			}
		}
		j.op.Resolve(err)
	}()
	return j.op
}

// GenerateChangesScript renders the Model's pending changes as a script.
func (c *Controller) GenerateChangesScript(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persister.GenerateChangesScript(ctx)
}

// RejectChanges discards the Model's pending changes. It fails with
// ErrJobInFlight while a persist job is in flight.
func (c *Controller) RejectChanges() error {
	return c.Update(func(m *model.Model) error {
		m.RejectChanges()
		return nil
	})
}

// View invokes |fn| with the Model. |fn| must not modify the Model.
func (c *Controller) View(fn func(*model.Model)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.model)
}

// Update invokes |fn| to modify the Model, returning its error. Updates are
// rejected with ErrJobInFlight while a persist job is in flight. An update
// made while a read job is in flight is superseded by the read's delivery,
// if the read is a Refresh.
func (c *Controller) Update(fn func(*model.Model) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil && c.job.kind == persistJob {
		return ErrJobInFlight
	}
	return fn(c.model)
}

// Cancel the in-flight read or persist job. Cancellation is cooperative:
// a read stops before its next row, and a persist job before its next
// statement. If a cancelled read has not completed after the configured
// grace period, it's abandoned and its OpFuture fails with
// ErrForceCancelled. Persist jobs are never abandoned, because their
// outcome must be reflected into the Model.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var j = c.job
	if j == nil {
		return
	}
	j.cancel()

	if j.kind == readJob && c.cfg.CancelForceTimeoutMs > 0 {
		time.AfterFunc(c.cfg.cancelForceTimeout(), func() { c.forceCancel(j) })
	}
}

func (c *Controller) forceCancel(j *job) {
	c.mu.Lock()
	if c.job != j {
		c.mu.Unlock()
		return // Completed.
	}
	j.abandoned = true
	c.job = nil
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"container": c.container.Name(),
		"timeout":   c.cfg.cancelForceTimeout(),
	}).Warn("cancelled read did not stop; abandoning it")

	j.op.Resolve(ErrForceCancelled)
}

// InFlight returns true if a read or persist job is in flight.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil
}

// HasMoreData returns true if the last page read was full.
func (c *Controller) HasMoreData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Warnings returns distinct *model.FetchErrors of the current result.
func (c *Controller) Warnings() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.warnings...)
}

// Statistics of the last completed read.
func (c *Controller) Statistics() source.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RowCount returns the last counted number of rows, or -1 if rows have
// not been counted.
func (c *Controller) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

// SingleRowMode returns true if AutoSwitchSingleRowMode is enabled and the
// last refresh read exactly one row.
func (c *Controller) SingleRowMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.singleRow
}

func closeSession(sess source.Session) {
	if err := sess.Close(); err != nil {
		log.WithField("err", err).Warn("failed to close session")
	}
}

// delivery is a receiver.Target which buffers a read, for later delivery
// into the Model.
type delivery struct {
	attrs   []*model.AttributeBinding
	bound   bool
	replace bool
	rows    [][]interface{}
}

func (d *delivery) SetMetaData(attrs []*model.AttributeBinding) { d.attrs, d.bound = attrs, true }
func (d *delivery) SetData(rows [][]interface{})                { d.rows, d.replace = rows, true }
func (d *delivery) AppendData(rows [][]interface{})             { d.rows = append(d.rows, rows...) }

func (d *delivery) deliver(m *model.Model) {
	if d.bound {
		m.SetMetaData(d.attrs)
	}
	if d.replace {
		m.SetData(d.rows)
	} else {
		m.AppendData(d.rows)
	}
}
