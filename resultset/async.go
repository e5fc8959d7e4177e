package resultset

// OpFuture is the pending outcome of a read, count, or commit job started
// by a Controller. Done is closed once the job has released the Controller,
// after which Err returns the job's outcome without blocking.
type OpFuture interface {
	// Done is closed when the job is finished.
	Done() <-chan struct{}
	// Err waits for Done and returns the job's error, if any.
	Err() error
}

// AsyncOperation is the OpFuture returned for Controller jobs. The job
// goroutine owns it and resolves it once.
type AsyncOperation struct {
	done chan struct{}
	err  error
}

// NewAsyncOperation returns an unresolved AsyncOperation.
func NewAsyncOperation() *AsyncOperation { return &AsyncOperation{done: make(chan struct{})} }

// Done is closed by Resolve.
func (o *AsyncOperation) Done() <-chan struct{} { return o.done }

// Err waits for the job, and returns the error it resolved with.
func (o *AsyncOperation) Err() error {
	<-o.done
	return o.err
}

// Resolve finishes the job with |err|. Calling Resolve twice panics.
func (o *AsyncOperation) Resolve(err error) {
	o.err = err
	close(o.done)
}

// FinishedOperation is the OpFuture of a job rejected before it started,
// such as one refused with ErrJobInFlight.
func FinishedOperation(err error) *AsyncOperation {
	var op = NewAsyncOperation()
	op.Resolve(err)
	return op
}

// CountFuture is the OpFuture of a row count.
type CountFuture struct {
	*AsyncOperation
	count int64
}

// Count waits for the count job, and returns the number of rows matched by
// the Model's DataFilter.
func (f *CountFuture) Count() (int64, error) {
	var err = f.Err()
	return f.count, err
}
