package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("db worker closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serialises every write transaction through one goroutine.  Each
// TxFn runs in its own transaction: it commits only if fn returns nil, so a
// failed fn leaves no partial writes behind.
type Worker struct {
	db     *sql.DB
	jobs   chan job
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:     db,
		jobs:   make(chan job, 256),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close stops accepting jobs, drains the queue and waits for the loop.
// Safe to call more than once.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.closed) })
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	select {
	case <-w.closed:
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- j:
	case <-w.closed:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// A queued job is always answered by the loop, and its result stands
	// even if ctx is cancelled meanwhile: a committed tx never reports an
	// error.
	select {
	case err := <-ch:
		return err
	case <-w.done:
		select {
		case err := <-ch:
			return err
		default:
			return ErrWorkerClosed
		}
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case j := <-w.jobs:
			j.ch <- w.run(j)
		case <-w.closed:
			for {
				select {
				case j := <-w.jobs:
					j.ch <- w.run(j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) run(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}

	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("tx panic: %v", r)
		}
	}()

	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
