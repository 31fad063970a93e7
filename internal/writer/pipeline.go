// Package writer decouples record production from serialization: records are
// pushed into a bounded queue and a single consumer appends them, one JSON
// object per line, to a destination.
package writer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/metrics"
)

// DefaultCapacity is the number of in-flight records a pipeline buffers.
const DefaultCapacity = 100

// ErrConsumerStopped is returned by Send once the consumer has terminated.
var ErrConsumerStopped = errors.New("writer consumer stopped")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("writer pipeline closed")

// Options configures a Pipeline.
type Options struct {
	// Name labels the stream in logs and metrics, e.g. "raw".
	Name     string
	Capacity int
	Logger   *zap.Logger
}

// Pipeline is a bounded single-consumer queue of T. Records are written in
// exactly the order they were sent.
type Pipeline[T any] struct {
	name    string
	queue   chan T
	stopped chan struct{}
	done    chan struct{}
	err     error
	logger  *zap.Logger

	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	written   int
}

// Start spawns the consumer draining into dst. When dst is an io.Closer it is
// closed after the final flush.
func Start[T any](dst io.Writer, opts Options) *Pipeline[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Pipeline[T]{
		name:    opts.Name,
		queue:   make(chan T, opts.Capacity),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  opts.Logger.With(zap.String("stream", opts.Name)),
	}
	go p.consume(dst)
	return p
}

// Send enqueues rec, blocking while the queue is full. It fails without
// enqueuing when the consumer has already terminated or ctx ends.
func (p *Pipeline[T]) Send(ctx context.Context, rec T) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send canceled: %w", err)
	}
	select {
	case <-p.stopped:
		return ErrConsumerStopped
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("send canceled: %w", ctx.Err())
	case <-p.stopped:
		return ErrConsumerStopped
	case p.queue <- rec:
		return nil
	}
}

// Close signals end of production, waits for the consumer to drain and flush,
// and returns the consumer's first error.
func (p *Pipeline[T]) Close() error {
	p.closeOnce.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.queue)
		p.closeMu.Unlock()
	})
	<-p.done
	return p.err
}

// Written reports how many records the consumer persisted. It is only
// meaningful after Close returns.
func (p *Pipeline[T]) Written() int {
	<-p.done
	return p.written
}

func (p *Pipeline[T]) consume(dst io.Writer) {
	defer close(p.done)

	buf := bufio.NewWriter(dst)
	err := p.drain(buf)
	if err == nil {
		if ferr := buf.Flush(); ferr != nil {
			err = fmt.Errorf("flush %s records: %w", p.name, ferr)
		}
	}
	if closer, ok := dst.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s destination: %w", p.name, cerr)
		}
	}
	if err != nil {
		metrics.ObserveWriterFailure(p.name)
		p.logger.Error("writer consumer failed", zap.Int("written", p.written), zap.Error(err))
	}
	p.err = err
}

// drain serializes until the queue is closed. On failure it closes stopped so
// producers blocked on a full queue are released.
func (p *Pipeline[T]) drain(buf *bufio.Writer) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for rec := range p.queue {
		if err := enc.Encode(rec); err != nil {
			close(p.stopped)
			return fmt.Errorf("write %s record %d: %w", p.name, p.written, err)
		}
		p.written++
		metrics.ObserveWriterRecord(p.name)
	}
	return nil
}
