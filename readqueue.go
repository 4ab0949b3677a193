package pipeline

import (
	"fmt"
)

// ConnectionReadQueue is a strictly serial queue owning one read-only
// Connection pinned to a WAL snapshot. Multiple read queues run
// concurrently with each other and with the single ConnectionQueue writer
// because each owns an independent engine handle; the concurrency comes
// from the engine's concurrent-reader support, never from sharing a
// handle.
//
// The snapshot is pinned at construction and stays fixed until Refresh is
// called explicitly. Commits made by the writer after the pin are not
// visible through this queue until then.
type ConnectionReadQueue struct {
	sq   *serialQueue
	busy BusyPolicy
}

// NewConnectionReadQueue opens a read-only connection to target, pins its
// snapshot, and starts the queue worker that owns it.
func NewConnectionReadQueue(target string, opts ...QueueOption) (*ConnectionReadQueue, error) {
	cfg := buildQueueConfig(target, opts)
	connOpts := append([]ConnectionOption{
		WithLogger(cfg.logger),
		ReadOnly(),
	}, cfg.connOpts...)
	if cfg.haveBusy {
		connOpts = append(connOpts, WithBusyPolicy(cfg.busy))
	}
	conn, err := Open(target, connOpts...)
	if err != nil {
		return nil, err
	}
	if err := beginSnapshot(conn); err != nil {
		conn.closeDiscarding()
		return nil, err
	}
	cfg.logger.Info("read queue opened", "queue", cfg.label, "target", target)
	return &ConnectionReadQueue{
		sq:   newSerialQueue(conn, cfg.label, cfg.logger),
		busy: conn.busy,
	}, nil
}

// beginSnapshot opens a deferred read transaction and touches the schema
// so the engine actually acquires the read lock, fixing the snapshot.
func beginSnapshot(c *Connection) error {
	if err := c.execRaw("BEGIN DEFERRED"); err != nil {
		return err
	}
	if err := c.execRaw("SELECT COUNT(*) FROM sqlite_schema"); err != nil {
		_ = c.execRaw("ROLLBACK")
		return err
	}
	c.txState = TxActive
	return nil
}

// endSnapshot releases the read transaction.
func endSnapshot(c *Connection) error {
	err := c.execRaw("COMMIT")
	c.txState = TxNone
	return err
}

// Label returns the queue's log label.
func (q *ConnectionReadQueue) Label() string { return q.sq.label }

// Sync runs work against the owned read-only connection, blocking the
// caller until it has executed in its submission-order slot.
func (q *ConnectionReadQueue) Sync(work func(*Connection) error) error {
	return q.sq.sync(work)
}

// Async enqueues work and returns immediately. completion (if non-nil) is
// invoked with the result on the queue goroutine after the item executes.
func (q *ConnectionReadQueue) Async(work func(*Connection) error, completion func(error)) {
	q.sq.async(work, completion)
}

// Refresh re-pins the snapshot to the latest committed state. The refresh
// is serialized like any other work item, so readers submitted before it
// still see the old snapshot and readers submitted after it see the new
// one. Never implicit.
func (q *ConnectionReadQueue) Refresh() error {
	return q.sq.sync(func(c *Connection) error {
		if err := endSnapshot(c); err != nil {
			return err
		}
		if err := q.busy.run(q.sq.logger, func() error { return beginSnapshot(c) }); err != nil {
			return fmt.Errorf("re-pin snapshot: %w", err)
		}
		q.sq.logger.Debug("snapshot refreshed", "queue", q.sq.label)
		return nil
	})
}

// Close rejects new work, cancels queued-but-not-started items, and
// closes the owned connection; closing the engine handle releases the
// pinned read transaction. Idempotent.
func (q *ConnectionReadQueue) Close() error {
	return q.sq.close()
}

// QueueReadSync runs work on the read queue and returns its typed result.
func QueueReadSync[T any](q *ConnectionReadQueue, work func(*Connection) (T, error)) (T, error) {
	var out T
	err := q.Sync(func(c *Connection) error {
		var werr error
		out, werr = work(c)
		return werr
	})
	return out, err
}
