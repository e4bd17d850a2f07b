package gstreamer

import (
	"fmt"
	"sync"
)

// SimulatedOptions configures the in-memory framework.
type SimulatedOptions struct {
	// Unavailable lists element factories that cannot be instantiated.
	Unavailable []string
	// IncompatibleLinks lists "srcfactory->sinkfactory" pairs that refuse
	// to link.
	IncompatibleLinks []string
	// DynamicPads maps a factory to the number of output pads it announces
	// when first activated.
	DynamicPads map[string]int
	// StateHook, when set, is consulted before every state change and may
	// reject it.
	StateHook func(pipeline string, target PipelineState) error
}

// DefaultSimulatedOptions returns options where every factory is available
// and camera sources announce one pad on activation.
func DefaultSimulatedOptions() SimulatedOptions {
	return SimulatedOptions{
		DynamicPads: map[string]int{"ahcsrc": 1},
	}
}

// SimulatedFramework is an in-memory Framework. It records every pipeline it
// creates so tests can inspect them.
type SimulatedFramework struct {
	mu           sync.Mutex
	unavailable  map[string]bool
	incompatible map[string]bool
	dynamicPads  map[string]int
	stateHook    func(pipeline string, target PipelineState) error
	noPadSignal  map[string]bool
	pipelines    []*SimulatedPipeline
}

// NewSimulatedFramework creates a simulated framework.
func NewSimulatedFramework(opts SimulatedOptions) *SimulatedFramework {
	f := &SimulatedFramework{
		unavailable:  make(map[string]bool),
		incompatible: make(map[string]bool),
		dynamicPads:  make(map[string]int),
		stateHook:    opts.StateHook,
		noPadSignal:  make(map[string]bool),
	}
	for _, factory := range opts.Unavailable {
		f.unavailable[factory] = true
	}
	for _, pair := range opts.IncompatibleLinks {
		f.incompatible[pair] = true
	}
	for factory, n := range opts.DynamicPads {
		f.dynamicPads[factory] = n
	}
	return f
}

func (f *SimulatedFramework) Name() string { return "simulated" }

// SetUnavailable toggles whether a factory can be instantiated.
func (f *SimulatedFramework) SetUnavailable(factory string, unavailable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if unavailable {
		f.unavailable[factory] = true
	} else {
		delete(f.unavailable, factory)
	}
}

// SetDynamicPads sets how many pads a factory announces on activation.
func (f *SimulatedFramework) SetDynamicPads(factory string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dynamicPads[factory] = n
}

// SetPadSignalUnavailable makes pad-added subscriptions on elements of
// factory fail.
func (f *SimulatedFramework) SetPadSignalUnavailable(factory string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noPadSignal[factory] = true
}

func (f *SimulatedFramework) padSignalUnavailable(factory string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noPadSignal[factory]
}

// SetStateHook replaces the state hook.
func (f *SimulatedFramework) SetStateHook(hook func(pipeline string, target PipelineState) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateHook = hook
}

func (f *SimulatedFramework) NewPipeline(name string) (Pipeline, error) {
	p := &SimulatedPipeline{
		framework:   f,
		name:        name,
		elements:    make(map[string]*SimulatedElement),
		padHandlers: make(map[string][]func(Pad)),
		announced:   make(map[string]bool),
		state:       PipelineStateNull,
	}

	f.mu.Lock()
	f.pipelines = append(f.pipelines, p)
	f.mu.Unlock()
	return p, nil
}

func (f *SimulatedFramework) NewMainLoop() (MainLoop, error) {
	l := &SimulatedLoop{}
	l.cond = sync.NewCond(&l.mu)
	return l, nil
}

// Pipelines returns every pipeline created with the given name.
func (f *SimulatedFramework) Pipelines(name string) []*SimulatedPipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SimulatedPipeline
	for _, p := range f.pipelines {
		if p.name == name {
			out = append(out, p)
		}
	}
	return out
}

func (f *SimulatedFramework) isUnavailable(factory string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unavailable[factory]
}

func (f *SimulatedFramework) isIncompatible(src, sink string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incompatible[src+"->"+sink]
}

func (f *SimulatedFramework) padCount(factory string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dynamicPads[factory]
}

func (f *SimulatedFramework) hook() func(string, PipelineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateHook
}

// SimulatedLoop is a queue-driven MainLoop.
type SimulatedLoop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running bool
	quit    bool
}

func (l *SimulatedLoop) Run(onStarted func()) {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return
	}
	l.running = true
	if onStarted != nil {
		l.queue = append([]func(){onStarted}, l.queue...)
	}
	l.mu.Unlock()

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.quit {
			l.cond.Wait()
		}
		if l.quit {
			l.running = false
			l.queue = nil
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}

func (l *SimulatedLoop) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quit = true
	l.cond.Broadcast()
}

func (l *SimulatedLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *SimulatedLoop) Invoke(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// SimulatedElement is an element of a SimulatedPipeline.
type SimulatedElement struct {
	name    string
	factory string

	mu         sync.Mutex
	properties map[string]interface{}
	sinkLinked bool
}

func (e *SimulatedElement) Name() string    { return e.name }
func (e *SimulatedElement) Factory() string { return e.factory }

func (e *SimulatedElement) SetProperty(name string, value interface{}) error {
	if name == "" {
		return fmt.Errorf("empty property name on %s", e.name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.properties[name] = value
	return nil
}

func (e *SimulatedElement) GetProperty(name string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, ok := e.properties[name]
	if !ok {
		return nil, fmt.Errorf("property %s not set on %s", name, e.name)
	}
	return value, nil
}

// SinkLinked reports whether the element's input is connected.
func (e *SimulatedElement) SinkLinked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinkLinked
}

func (e *SimulatedElement) claimSink() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sinkLinked {
		return false
	}
	e.sinkLinked = true
	return true
}

type simulatedPad struct {
	name     string
	owner    *SimulatedElement
	pipeline *SimulatedPipeline
}

func (p *simulatedPad) Name() string { return p.name }

func (p *simulatedPad) Link(sink Element) error {
	target, ok := sink.(*SimulatedElement)
	if !ok || target == nil {
		return fmt.Errorf("cannot link pad %s to foreign element", p.name)
	}
	if !target.claimSink() {
		return ErrPadAlreadyLinked
	}
	p.pipeline.recordLink(Link{Kind: LinkDeferred, Src: p.owner.name, Sink: target.name})
	return nil
}

// SimulatedPipeline is an in-memory Pipeline.
type SimulatedPipeline struct {
	framework *SimulatedFramework
	name      string

	mu          sync.Mutex
	elements    map[string]*SimulatedElement
	order       []string
	links       []Link
	padHandlers map[string][]func(Pad)
	announced   map[string]bool
	state       PipelineState
	transitions []PipelineState
	closed      bool

	loop      MainLoop
	handler   func(*Message)
	unwatched bool
	pending   []*Message
}

func (p *SimulatedPipeline) Name() string { return p.name }

func (p *SimulatedPipeline) CreateElement(factory, name string) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPipelineClosed
	}
	if p.framework.isUnavailable(factory) {
		return nil, fmt.Errorf("no such element factory %q", factory)
	}
	if _, exists := p.elements[name]; exists {
		return nil, fmt.Errorf("element %s already in pipeline %s", name, p.name)
	}

	e := &SimulatedElement{
		name:       name,
		factory:    factory,
		properties: make(map[string]interface{}),
	}
	p.elements[name] = e
	p.order = append(p.order, name)
	return e, nil
}

func (p *SimulatedPipeline) Link(src, sink Element) error {
	s, ok1 := src.(*SimulatedElement)
	t, ok2 := sink.(*SimulatedElement)
	if !ok1 || !ok2 {
		return fmt.Errorf("cannot link foreign elements")
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPipelineClosed
	}

	if p.framework.isIncompatible(s.factory, t.factory) {
		return fmt.Errorf("could not link %s to %s: no common format", s.name, t.name)
	}
	if !t.claimSink() {
		return ErrPadAlreadyLinked
	}
	p.recordLink(Link{Kind: LinkStatic, Src: s.name, Sink: t.name})
	return nil
}

func (p *SimulatedPipeline) recordLink(link Link) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = append(p.links, link)
}

func (p *SimulatedPipeline) OnPadAdded(src Element, fn func(Pad)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	if p.framework.padSignalUnavailable(src.Factory()) {
		return fmt.Errorf("signal pad-added is invalid for %s", src.Name())
	}
	p.padHandlers[src.Name()] = append(p.padHandlers[src.Name()], fn)
	return nil
}

func (p *SimulatedPipeline) SetState(target PipelineState) error {
	if hook := p.framework.hook(); hook != nil {
		if err := hook(p.name, target); err != nil {
			return err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}

	var messages []*Message
	for p.state != target {
		old := p.state
		if target > p.state {
			p.state++
		} else {
			p.state--
		}
		p.transitions = append(p.transitions, p.state)

		for _, name := range p.order {
			messages = append(messages, &Message{
				Type:     MessageStateChanged,
				Source:   name,
				OldState: old,
				NewState: p.state,
			})
		}
		messages = append(messages, &Message{
			Type:         MessageStateChanged,
			Source:       p.name,
			FromPipeline: true,
			OldState:     old,
			NewState:     p.state,
		})
	}

	type announcement struct {
		element  *SimulatedElement
		count    int
		handlers []func(Pad)
	}
	var announcements []announcement
	if p.state >= PipelineStatePaused {
		for _, name := range p.order {
			if p.announced[name] {
				continue
			}
			e := p.elements[name]
			n := p.framework.padCount(e.factory)
			if n == 0 {
				continue
			}
			p.announced[name] = true
			handlers := append([]func(Pad){}, p.padHandlers[name]...)
			announcements = append(announcements, announcement{element: e, count: n, handlers: handlers})
		}
	}
	p.mu.Unlock()

	for _, a := range announcements {
		for i := 0; i < a.count; i++ {
			pad := &simulatedPad{name: fmt.Sprintf("src_%d", i), owner: a.element, pipeline: p}
			for _, h := range a.handlers {
				h(pad)
			}
		}
	}

	for _, msg := range messages {
		p.post(msg)
	}
	return nil
}

func (p *SimulatedPipeline) CurrentState() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SimulatedPipeline) Watch(loop MainLoop, handler func(*Message)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.loop = loop
	p.handler = handler
	p.unwatched = false
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, msg := range pending {
		p.post(msg)
	}
	return nil
}

func (p *SimulatedPipeline) Unwatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
	p.unwatched = true
	p.pending = nil
}

func (p *SimulatedPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = PipelineStateNull
	p.handler = nil
	p.pending = nil
	return nil
}

// PostError posts an error message as if element source had failed.
func (p *SimulatedPipeline) PostError(source string, err error, debug string) {
	p.post(&Message{
		Type:         MessageError,
		Source:       source,
		FromPipeline: source == p.name,
		Err:          err,
		Debug:        debug,
	})
}

// PostMessage posts an arbitrary message on the bus.
func (p *SimulatedPipeline) PostMessage(msg *Message) {
	p.post(msg)
}

func (p *SimulatedPipeline) post(msg *Message) {
	p.mu.Lock()
	if p.unwatched || p.closed {
		p.mu.Unlock()
		return
	}
	if p.handler == nil {
		p.pending = append(p.pending, msg)
		p.mu.Unlock()
		return
	}
	loop := p.loop
	p.mu.Unlock()

	loop.Invoke(func() {
		p.mu.Lock()
		handler := p.handler
		p.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	})
}

// Element returns an element by name.
func (p *SimulatedPipeline) Element(name string) (*SimulatedElement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elements[name]
	return e, ok
}

// Links returns the links the pipeline has accepted.
func (p *SimulatedPipeline) Links() []Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Link, len(p.links))
	copy(out, p.links)
	return out
}

// Transitions returns every intermediate state the pipeline passed through.
func (p *SimulatedPipeline) Transitions() []PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PipelineState, len(p.transitions))
	copy(out, p.transitions)
	return out
}

// Closed reports whether Close was called.
func (p *SimulatedPipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Watched reports whether a bus handler is installed.
func (p *SimulatedPipeline) Watched() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}
