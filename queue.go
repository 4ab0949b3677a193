package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
)

// workItem is one unit of queued work. Exactly one of done/completion is
// typically set: done for Sync callers blocking on the result, completion
// for Async callers.
type workItem struct {
	work       func(*Connection) error
	completion func(error)
	done       chan error // buffered, size 1
}

func (w *workItem) deliver(err error) {
	if w.done != nil {
		w.done <- err
	}
	if w.completion != nil {
		w.completion(err)
	}
}

// serialQueue is the shared core of ConnectionQueue and
// ConnectionReadQueue: a strictly ordered FIFO drained by one worker
// goroutine that is the sole code ever touching the owned Connection.
//
// The pending list is guarded by a mutex with a buffered signal channel
// for wakeups; the lock is never held while a work item runs, so
// submission from any goroutine stays cheap and ordering is purely
// structural. Exactly one item executes at a time.
type serialQueue struct {
	conn   *Connection
	label  string
	logger *slog.Logger

	mu     sync.Mutex
	items  []*workItem
	closed bool

	signal  chan struct{} // buffered, size 1; only ever sent to under mu
	drained chan struct{} // closed when the worker exits
}

// newSerialQueue takes ownership of conn and starts the worker goroutine.
func newSerialQueue(conn *Connection, label string, logger *slog.Logger) *serialQueue {
	q := &serialQueue{
		conn:    conn,
		label:   label,
		logger:  logger,
		items:   make([]*workItem, 0, 16),
		signal:  make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) submit(item *workItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue %q is closed", ErrMisuse, q.label)
	}
	q.items = append(q.items, item)
	q.wakeLocked()
	return nil
}

// wakeLocked nudges the worker. Coalescing: a buffer of one is enough.
// Callers must hold q.mu so a wake can never race queue teardown.
func (q *serialQueue) wakeLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *serialQueue) tryDequeue() (*workItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil // release the closure for GC
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// run is the worker loop. It drains items strictly in submission order
// and exits once the queue is closed and empty.
func (q *serialQueue) run() {
	q.logger.Debug("queue worker started", "queue", q.label)
	for {
		item, ok := q.tryDequeue()
		if ok {
			q.logger.Debug("work item starting", "queue", q.label)
			err := item.work(q.conn)
			q.logger.Debug("work item finished", "queue", q.label, "error", err)
			item.deliver(err)
			continue
		}
		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()
		<-q.signal
	}
	q.logger.Debug("queue worker stopped", "queue", q.label)
	close(q.drained)
}

// sync submits work and blocks the caller until it has executed. Must not
// be called from inside a work closure on the same queue: the worker
// cannot run the nested item while blocked in the outer one.
func (q *serialQueue) sync(work func(*Connection) error) error {
	item := &workItem{work: work, done: make(chan error, 1)}
	if err := q.submit(item); err != nil {
		return err
	}
	return <-item.done
}

// async submits work and returns immediately; completion (if non-nil) is
// invoked with the result on the worker goroutine. A submission failure is
// reported through completion as well.
func (q *serialQueue) async(work func(*Connection) error, completion func(error)) {
	item := &workItem{work: work, completion: completion}
	if err := q.submit(item); err != nil && completion != nil {
		completion(err)
	}
}

// close rejects new work, cancels queued-but-not-started items with a
// Cancelled-kind error, lets the in-flight item finish, then closes the
// owned connection (finalizing any straggler statements).
func (q *serialQueue) close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.drained
		return nil
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.wakeLocked()
	q.mu.Unlock()

	if len(pending) > 0 {
		q.logger.Info("cancelling pending work at queue close",
			"queue", q.label, "pending", len(pending))
	}
	for _, item := range pending {
		item.deliver(fmt.Errorf("%w: queue %q closed before execution", ErrCancelled, q.label))
	}

	<-q.drained
	err := q.conn.closeDiscarding()
	q.logger.Info("queue closed", "queue", q.label)
	return err
}

type queueConfig struct {
	label    string
	logger   *slog.Logger
	busy     BusyPolicy
	haveBusy bool
	connOpts []ConnectionOption
}

// QueueOption configures NewConnectionQueue and NewConnectionReadQueue.
type QueueOption func(*queueConfig)

// WithQueueLabel names the queue in logs. Defaults to the database target.
func WithQueueLabel(label string) QueueOption {
	return func(c *queueConfig) { c.label = label }
}

// WithQueueLogger sets the structured logger for the queue and its
// connection. Defaults to slog.Default().
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(c *queueConfig) { c.logger = logger }
}

// WithQueueBusyPolicy sets the retry policy applied by the queue's
// execute and transaction helpers.
func WithQueueBusyPolicy(p BusyPolicy) QueueOption {
	return func(c *queueConfig) { c.busy = p; c.haveBusy = true }
}

// WithQueueConnectionOptions passes additional options through to the
// owned connection's Open.
func WithQueueConnectionOptions(opts ...ConnectionOption) QueueOption {
	return func(c *queueConfig) { c.connOpts = append(c.connOpts, opts...) }
}

func buildQueueConfig(target string, opts []QueueOption) queueConfig {
	cfg := queueConfig{label: target, logger: slog.Default(), busy: DefaultBusyPolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ConnectionQueue is the single-writer gate: a strictly serial execution
// queue owning one writable Connection. All write access to the database
// goes through one ConnectionQueue instance; work items execute in
// submission order with no interleaving.
type ConnectionQueue struct {
	sq   *serialQueue
	busy BusyPolicy
}

// NewConnectionQueue opens a writable connection to target in WAL mode and
// starts the queue worker that owns it.
func NewConnectionQueue(target string, opts ...QueueOption) (*ConnectionQueue, error) {
	cfg := buildQueueConfig(target, opts)
	connOpts := append([]ConnectionOption{
		WithLogger(cfg.logger),
		WithPragma("journal_mode = WAL"),
		WithPragma("synchronous = NORMAL"),
		WithPragma("foreign_keys = ON"),
	}, cfg.connOpts...)
	if cfg.haveBusy {
		connOpts = append(connOpts, WithBusyPolicy(cfg.busy))
	}
	conn, err := Open(target, connOpts...)
	if err != nil {
		return nil, err
	}
	cfg.logger.Info("write queue opened", "queue", cfg.label, "target", target)
	return &ConnectionQueue{
		sq:   newSerialQueue(conn, cfg.label, cfg.logger),
		busy: conn.busy,
	}, nil
}

// Label returns the queue's log label.
func (q *ConnectionQueue) Label() string { return q.sq.label }

// Sync runs work against the owned connection, blocking the caller until
// it has executed in its submission-order slot. Must not be called from
// inside a work closure on the same queue.
func (q *ConnectionQueue) Sync(work func(*Connection) error) error {
	return q.sq.sync(work)
}

// Async enqueues work and returns immediately. completion (if non-nil) is
// invoked with the result on the queue goroutine after the item executes.
func (q *ConnectionQueue) Async(work func(*Connection) error, completion func(error)) {
	q.sq.async(work, completion)
}

// AsyncTransaction enqueues a transaction of the given kind.
func (q *ConnectionQueue) AsyncTransaction(kind TransactionKind, body func(*Connection) (TxOutcome, error), completion func(error)) {
	q.sq.async(func(c *Connection) error {
		return c.Transaction(kind, body)
	}, completion)
}

// SyncTransaction runs a transaction of the given kind, applying the
// queue's busy policy around the whole attempt. A RollbackFailed outcome
// is never retried.
func (q *ConnectionQueue) SyncTransaction(kind TransactionKind, body func(*Connection) (TxOutcome, error)) error {
	return q.sq.sync(func(c *Connection) error {
		return q.busy.run(q.sq.logger, func() error {
			return c.Transaction(kind, body)
		})
	})
}

// ExecuteSync runs one SQL statement through the queue with busy retry.
func (q *ConnectionQueue) ExecuteSync(sql string, args ...any) error {
	return q.sq.sync(func(c *Connection) error {
		return q.busy.run(q.sq.logger, func() error {
			return c.Execute(sql, args...)
		})
	})
}

// Close rejects new work, cancels queued-but-not-started items with a
// Cancelled-kind error (their completions are invoked), finishes the
// in-flight item, then closes the owned connection. Idempotent.
func (q *ConnectionQueue) Close() error {
	return q.sq.close()
}

// QueueSync runs work on the queue and returns its typed result.
func QueueSync[T any](q *ConnectionQueue, work func(*Connection) (T, error)) (T, error) {
	var out T
	err := q.Sync(func(c *Connection) error {
		var werr error
		out, werr = work(c)
		return werr
	})
	return out, err
}
