// Package supervisor owns the lifetimes of the sync core's background work:
// named long-lived loops and short fan-out tasks.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Closer is closed last during Shutdown. The connection registry satisfies it.
type Closer interface {
	Close(ctx context.Context) error
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs loops and fan-out tasks under one root context.
type Supervisor struct {
	logger *slog.Logger
	closer Closer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	loops    map[string]*loop
	stopped  bool
	tasks    sync.WaitGroup
	inFlight int
}

// New creates a Supervisor. closer may be nil.
func New(logger *slog.Logger, closer Closer) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger: logger,
		closer: closer,
		ctx:    ctx,
		cancel: cancel,
		loops:  make(map[string]*loop),
	}
}

// Start runs fn as the named loop. If a loop with that name is already
// running it is cancelled and awaited first, so at most one instance of a
// name ever runs.
func (s *Supervisor) Start(name string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	prev := s.loops[name]
	ctx, cancel := context.WithCancel(s.ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[name] = l
	s.mu.Unlock()

	go func() {
		defer close(l.done)
		if prev != nil {
			prev.cancel()
			<-prev.done
			s.logger.Debug("loop restarted", slog.String("loop", name))
		}
		fn(ctx)
	}()
	return true
}

// Go runs fn as a tracked fan-out task. It returns false once shutdown has
// begun, in which case fn is not run.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.tasks.Add(1)
	s.inFlight++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			s.tasks.Done()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("task panicked", slog.String("task", name), slog.Any("panic", r))
			}
		}()
		fn(s.ctx)
	}()
	return true
}

// InFlight returns the number of running fan-out tasks.
func (s *Supervisor) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Running reports whether the named loop is running.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	l, ok := s.loops[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Shutdown cancels every loop and waits for them, gives in-flight fan-out
// tasks until ctx ends, then closes the closer.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	loops := make(map[string]*loop, len(s.loops))
	for name, l := range s.loops {
		loops[name] = l
	}
	s.mu.Unlock()

	s.logger.Info("supervisor shutdown initiated", slog.Int("loops", len(loops)))

	for name, l := range loops {
		l.cancel()
		<-l.done
		s.logger.Debug("loop stopped", slog.String("loop", name))
	}

	var errs []error

	tasksDone := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(tasksDone)
	}()
	select {
	case <-tasksDone:
	case <-ctx.Done():
		s.logger.Warn("abandoning in-flight fan-out tasks", slog.Int("count", s.InFlight()))
		errs = append(errs, ctx.Err())
	}

	// Abandoned tasks observe cancellation on their next check.
	s.cancel()

	if s.closer != nil {
		if err := s.closer.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("supervisor shutdown complete")
	return errors.Join(errs...)
}
