package bridge

import (
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrDetached is returned when a handle is used after its slot was released.
	ErrDetached = errors.New("bridge: handle detached from host runtime")
	// ErrNoMethod is returned when the target lacks the requested entry point.
	ErrNoMethod = errors.New("bridge: no such entry point")
)

// Env is a handle into the host runtime, valid for one execution context.
type Env interface {
	ID() string
	Name() string
	Invoke(target interface{}, method string, args ...interface{}) error
}

// Runtime attaches execution contexts to the host. Every Env returned by
// Attach is passed to Detach exactly once.
type Runtime interface {
	Attach(name string) (Env, error)
	Detach(env Env)
}

// ReflectRuntime is a Runtime for hosts written in Go: entry points are
// exported methods of the target, called by reflection.
type ReflectRuntime struct {
	attached atomic.Int64
}

// NewReflectRuntime returns a ReflectRuntime.
func NewReflectRuntime() *ReflectRuntime {
	return &ReflectRuntime{}
}

func (r *ReflectRuntime) Attach(name string) (Env, error) {
	r.attached.Add(1)
	return &reflectEnv{id: uuid.NewString(), name: name}, nil
}

func (r *ReflectRuntime) Detach(env Env) {
	if e, ok := env.(*reflectEnv); ok && e.detached.CompareAndSwap(false, true) {
		r.attached.Add(-1)
	}
}

// Attached returns the number of handles not yet detached.
func (r *ReflectRuntime) Attached() int {
	return int(r.attached.Load())
}

type reflectEnv struct {
	id       string
	name     string
	detached atomic.Bool
}

func (e *reflectEnv) ID() string   { return e.id }
func (e *reflectEnv) Name() string { return e.name }

// Invoke calls method on target. A panic raised by the host is returned as
// an error.
func (e *reflectEnv) Invoke(target interface{}, method string, args ...interface{}) (err error) {
	if e.detached.Load() {
		return ErrDetached
	}
	if target == nil {
		return fmt.Errorf("%w: %s on nil target", ErrNoMethod, method)
	}

	m := reflect.ValueOf(target).MethodByName(method)
	if !m.IsValid() {
		return fmt.Errorf("%w: %T.%s", ErrNoMethod, target, method)
	}
	if m.Type().NumIn() != len(args) {
		return fmt.Errorf("%T.%s takes %d arguments, got %d", target, method, m.Type().NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		in[i] = reflect.ValueOf(arg)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host exception in %s: %v", method, r)
		}
	}()

	for _, out := range m.Call(in) {
		if callErr, ok := out.Interface().(error); ok && callErr != nil {
			return callErr
		}
	}
	return nil
}
