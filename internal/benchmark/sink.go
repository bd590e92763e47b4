package benchmark

import (
	"context"
	"errors"
	"fmt"
)

// Sink is the storage backend that receives generated records.
//
// A single Sink is shared by every worker of a run, so implementations must be
// safe for concurrent use.
type Sink interface {
	// WriteRecord hands one record to the backend. It may buffer internally
	// but must not block indefinitely.
	WriteRecord(ctx context.Context, r Record) error

	// Finish flushes buffered records. It is called exactly once, after all
	// workers have stopped. Sinks holding connections also implement
	// io.Closer; Close runs after the verification count.
	Finish(ctx context.Context) error

	// CountPersisted returns how many records of the measurement currently
	// exist in the backend. The result may lag behind recent writes.
	CountPersisted(ctx context.Context, measurement string) (int64, error)
}

// ErrCountUnsupported is returned by sinks that cannot answer count queries.
var ErrCountUnsupported = errors.New("count query not supported by this sink")

// WriteError reports a single record that failed to reach the backend.
type WriteError struct {
	Backend string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: write failed: %v", e.Backend, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FlushError reports a failure to flush or close a sink.
type FlushError struct {
	Backend string
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("%s: flush failed: %v", e.Backend, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// QueryError reports a failed verification count query.
type QueryError struct {
	Backend     string
	Measurement string
	Err         error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: count query for %q failed: %v", e.Backend, e.Measurement, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
