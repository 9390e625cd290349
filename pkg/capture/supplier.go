package capture

import (
	"context"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/streamlumo/frame-shm/internal/logging"
	"github.com/streamlumo/frame-shm/pkg/convert"
	"github.com/streamlumo/frame-shm/pkg/transport"
)

const defaultPoolSize = 4

// Supplier fans one source frame out to several named channels, typically
// "program" and "preview". Conversion and publishing run in parallel on a
// worker pool but Deliver itself is synchronous: the source planes are only
// valid until it returns.
type Supplier struct {
	writers cmap.ConcurrentMap[string, *Writer]
	pool    *ants.Pool
	log     *logging.Logger
}

// NewSupplier creates an empty supplier with a worker pool of the given
// size (a small default when n <= 0).
func NewSupplier(n int) (*Supplier, error) {
	if n <= 0 {
		n = defaultPoolSize
	}
	pool, err := ants.NewPool(n)
	if err != nil {
		return nil, fmt.Errorf("capture: pool: %w", err)
	}
	return &Supplier{
		writers: cmap.New[*Writer](),
		pool:    pool,
		log:     logging.New("capture/supplier", nil),
	}, nil
}

// AddChannel opens a writer for the named channel and registers it.
func (s *Supplier) AddChannel(opts transport.Options) (*Writer, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("capture: channel name required")
	}
	if s.writers.Has(opts.Channel) {
		return nil, fmt.Errorf("capture: channel %q already registered", opts.Channel)
	}
	w, err := NewWriter(opts)
	if err != nil {
		return nil, err
	}
	s.writers.Set(opts.Channel, w)
	return w, nil
}

// Writer returns the registered writer for a channel name.
func (s *Supplier) Writer(name string) (*Writer, bool) {
	return s.writers.Get(name)
}

// RemoveChannel unregisters and closes a writer.
func (s *Supplier) RemoveChannel(name string) {
	if w, ok := s.writers.Get(name); ok {
		s.writers.Remove(name)
		if err := w.Close(); err != nil {
			s.log.Warnf("closing %s: %v", name, err)
		}
	}
}

// Start attaches every registered writer, retrying until ctx is done.
func (s *Supplier) Start(ctx context.Context) error {
	for name, w := range s.writers.Items() {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("capture: start %s: %w", name, err)
		}
	}
	return nil
}

// Deliver hands src to every writer in parallel and waits for all of them.
// Per-writer failures are collected; the first one is returned after the
// whole fan-out has finished.
func (s *Supplier) Deliver(src *convert.SourceFrame) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for name, w := range s.writers.Items() {
		name, w := name, w
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := w.ProcessFrame(src); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", name, err)
				}
				mu.Unlock()
			}
		}
		if err := s.pool.Submit(task); err != nil {
			// Pool saturated or released; run on the caller instead of
			// dropping the channel's frame.
			task()
		}
	}
	wg.Wait()
	return firstErr
}

// Close shuts down every writer and releases the pool.
func (s *Supplier) Close() error {
	var firstErr error
	for name, w := range s.writers.Items() {
		s.writers.Remove(name)
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pool.Release()
	return firstErr
}
