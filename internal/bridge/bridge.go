// Package bridge delivers notifications to the host from arbitrary
// goroutines. Each execution context gets its own host handle, attached on
// first use and detached when the context ends.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoExecutionContext is returned by Current for a context that was not
// created by Enter.
var ErrNoExecutionContext = errors.New("bridge: no execution context")

type slotKey struct{}

// slot caches the host handle of one execution context.
type slot struct {
	id   string
	name string

	mu       sync.Mutex
	env      Env
	released bool
	stop     func() bool
}

// Bridge owns the per-context slots.
type Bridge struct {
	runtime Runtime
	logger  *logrus.Entry

	mu       sync.Mutex
	attached map[string]*slot

	slotObserver   func(live int)
	notifyObserver func(entry string, err error)
}

// New creates a bridge over runtime.
func New(runtime Runtime) *Bridge {
	return &Bridge{
		runtime:  runtime,
		logger:   logrus.WithField("component", "callback-bridge"),
		attached: make(map[string]*slot),
	}
}

// SetSlotObserver sets a callback invoked with the number of attached slots
// whenever it changes.
func (b *Bridge) SetSlotObserver(observer func(live int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slotObserver = observer
}

// SetNotifyObserver sets a callback invoked after every delivery attempt.
func (b *Bridge) SetNotifyObserver(observer func(entry string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyObserver = observer
}

// Enter starts an execution context. Its slot is released by Exit or when
// ctx is done, whichever comes first.
func (b *Bridge) Enter(ctx context.Context, name string) context.Context {
	s := &slot{id: uuid.NewString(), name: name}
	ctx = context.WithValue(ctx, slotKey{}, s)
	s.stop = context.AfterFunc(ctx, func() {
		b.release(s)
	})
	b.logger.Tracef("Entered execution context %s (%s)", name, s.id)
	return ctx
}

// Exit releases the slot of ctx synchronously.
func (b *Bridge) Exit(ctx context.Context) {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return
	}
	s.stop()
	b.release(s)
}

// Scoped runs fn inside a fresh execution context.
func (b *Bridge) Scoped(name string, fn func()) {
	ctx := b.Enter(context.Background(), name)
	defer b.Exit(ctx)
	fn()
}

// Current returns the host handle of ctx, attaching on first use.
func (b *Bridge) Current(ctx context.Context) (Env, error) {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return nil, ErrNoExecutionContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrDetached
	}
	if s.env != nil {
		return s.env, nil
	}

	env, err := b.runtime.Attach(s.name)
	if err != nil {
		return nil, fmt.Errorf("failed to attach %s to host runtime: %w", s.name, err)
	}
	s.env = env
	b.logger.Debugf("Attached execution context %s to host runtime (%s)", s.name, env.ID())

	b.mu.Lock()
	b.attached[s.id] = s
	live, observer := len(b.attached), b.slotObserver
	b.mu.Unlock()
	if observer != nil {
		observer(live)
	}
	return env, nil
}

// Slots returns the number of attached slots.
func (b *Bridge) Slots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.attached)
}

func (b *Bridge) release(s *slot) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	env := s.env
	s.env = nil
	s.mu.Unlock()

	if env == nil {
		return
	}
	b.runtime.Detach(env)
	b.logger.Debugf("Detached execution context %s (%s)", s.name, env.ID())

	b.mu.Lock()
	delete(b.attached, s.id)
	live, observer := len(b.attached), b.slotObserver
	b.mu.Unlock()
	if observer != nil {
		observer(live)
	}
}

// NotifyText calls the target's status entry point with message.
func (b *Bridge) NotifyText(ctx context.Context, target interface{}, message string) {
	b.deliver(ctx, target, MethodSetMessage, message)
}

// NotifySignal calls a no-argument entry point of the target.
func (b *Bridge) NotifySignal(ctx context.Context, target interface{}, entry string) {
	b.deliver(ctx, target, entry)
}

// deliver never fails: host errors and panics are logged and cleared.
func (b *Bridge) deliver(ctx context.Context, target interface{}, entry string, args ...interface{}) {
	if target == nil {
		b.logger.Debugf("No notification target, dropping %s", entry)
		return
	}

	if _, ok := ctx.Value(slotKey{}).(*slot); !ok {
		ctx = b.Enter(ctx, "transient")
		defer b.Exit(ctx)
	}

	err := b.invoke(ctx, target, entry, args...)
	if err != nil {
		b.logger.Warnf("Host callback %s failed: %v", entry, err)
	}

	b.mu.Lock()
	observer := b.notifyObserver
	b.mu.Unlock()
	if observer != nil {
		observer(entry, err)
	}
}

func (b *Bridge) invoke(ctx context.Context, target interface{}, entry string, args ...interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host exception in %s: %v", entry, r)
		}
	}()

	env, err := b.Current(ctx)
	if err != nil {
		return err
	}
	return env.Invoke(target, entry, args...)
}
