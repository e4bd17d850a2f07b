package gstreamer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Stage is a named, typed element of an ElementGraph.
type Stage struct {
	Kind    StageKind
	Name    string
	Element Element
}

// Link is a directed edge between two stages.
type Link struct {
	Kind LinkKind
	Src  string
	Sink string
}

// DeferredLinkHandler observes the outcome of a deferred link. It is called
// once, for the first pad the source announces.
type DeferredLinkHandler func(src, sink, pad string, err error)

// ScopeRunner runs fn inside a fresh execution scope. Pad announcements
// arrive on framework threads that the host has never seen.
type ScopeRunner func(name string, fn func())

type deferredLink struct {
	src       string
	sink      string
	linked    atomic.Bool
	announced atomic.Int32
}

// ElementGraph holds the stages of one pipeline and the links between them.
type ElementGraph struct {
	kind     MediaKind
	pipeline Pipeline
	logger   *logrus.Entry

	mu       sync.RWMutex
	stages   map[string]*Stage
	order    []string
	links    []Link
	deferred map[string]*deferredLink

	onDeferred DeferredLinkHandler
	scope      ScopeRunner
}

// NewElementGraph creates an empty graph over the given pipeline.
func NewElementGraph(kind MediaKind, pipeline Pipeline) *ElementGraph {
	return &ElementGraph{
		kind:     kind,
		pipeline: pipeline,
		logger: logrus.WithFields(logrus.Fields{
			"component": "element-graph",
			"pipeline":  pipeline.Name(),
		}),
		stages:   make(map[string]*Stage),
		deferred: make(map[string]*deferredLink),
	}
}

// Kind returns the media kind of the graph.
func (g *ElementGraph) Kind() MediaKind { return g.kind }

// Pipeline returns the underlying pipeline.
func (g *ElementGraph) Pipeline() Pipeline { return g.pipeline }

// OnDeferredLink sets the handler notified when a deferred link resolves.
func (g *ElementGraph) OnDeferredLink(handler DeferredLinkHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDeferred = handler
}

// SetScopeRunner sets the runner wrapping pad announcements.
func (g *ElementGraph) SetScopeRunner(runner ScopeRunner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scope = runner
}

// CreateElement instantiates a stage. It fails with ErrUnavailableStageKind
// when the framework has no such factory.
func (g *ElementGraph) CreateElement(kind StageKind, factory, name string) (Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.stages[name]; exists {
		return nil, NewElementError(ErrorTypeElementCreation, "element-graph", name,
			fmt.Sprintf("stage %s already exists", name), nil)
	}

	element, err := g.pipeline.CreateElement(factory, name)
	if err != nil {
		return nil, NewElementError(ErrorTypeElementCreation, "element-graph", name,
			fmt.Sprintf("failed to create %s stage from factory %s", kind, factory),
			fmt.Errorf("%w: %v", ErrUnavailableStageKind, err))
	}

	g.stages[name] = &Stage{Kind: kind, Name: name, Element: element}
	g.order = append(g.order, name)

	g.logger.Debugf("Created %s stage %s (%s)", kind, name, factory)
	return element, nil
}

// Link statically links two stages. It fails with ErrIncompatibleLink when
// the framework rejects the link.
func (g *ElementGraph) Link(src, sink string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	srcStage, ok := g.stages[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, src)
	}
	sinkStage, ok := g.stages[sink]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, sink)
	}

	if err := g.pipeline.Link(srcStage.Element, sinkStage.Element); err != nil {
		return NewElementError(ErrorTypeElementLinking, "element-graph", src,
			fmt.Sprintf("failed to link %s -> %s", src, sink),
			fmt.Errorf("%w: %v", ErrIncompatibleLink, err))
	}

	g.links = append(g.links, Link{Kind: LinkStatic, Src: src, Sink: sink})
	g.logger.Debugf("Linked %s -> %s", src, sink)
	return nil
}

// LinkMany links the given stages in order.
func (g *ElementGraph) LinkMany(names ...string) error {
	for i := 0; i+1 < len(names); i++ {
		if err := g.Link(names[i], names[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDeferredLink links the first pad announced by src to the input of
// sinkName. Later announcements are ignored.
func (g *ElementGraph) RegisterDeferredLink(src, sinkName string) error {
	g.mu.Lock()
	srcStage, ok := g.stages[src]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStage, src)
	}
	if _, ok := g.stages[sinkName]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStage, sinkName)
	}
	if _, exists := g.deferred[src]; exists {
		g.mu.Unlock()
		return fmt.Errorf("deferred link already registered for %s", src)
	}

	dl := &deferredLink{src: src, sink: sinkName}
	g.deferred[src] = dl
	g.links = append(g.links, Link{Kind: LinkDeferred, Src: src, Sink: sinkName})
	g.mu.Unlock()

	err := g.pipeline.OnPadAdded(srcStage.Element, func(pad Pad) {
		g.mu.RLock()
		scope := g.scope
		g.mu.RUnlock()

		if scope == nil {
			g.resolveDeferred(dl, pad)
			return
		}
		scope("pad-added:"+src, func() {
			g.resolveDeferred(dl, pad)
		})
	})
	if err != nil {
		return NewElementError(ErrorTypeElementLinking, "element-graph", src,
			"failed to subscribe to pad announcements", err)
	}

	g.logger.Debugf("Registered deferred link %s -> %s", src, sinkName)
	return nil
}

func (g *ElementGraph) resolveDeferred(dl *deferredLink, pad Pad) {
	count := dl.announced.Add(1)
	if !dl.linked.CompareAndSwap(false, true) {
		g.logger.Debugf("Ignoring pad %s from %s (announcement %d), already linked", pad.Name(), dl.src, count)
		return
	}

	g.mu.RLock()
	sink := g.stages[dl.sink]
	handler := g.onDeferred
	g.mu.RUnlock()

	g.logger.Infof("Dynamic pad %s created on %s, linking to %s", pad.Name(), dl.src, dl.sink)

	err := pad.Link(sink.Element)
	if err != nil {
		g.logger.Errorf("Failed to link pad %s of %s to %s: %v", pad.Name(), dl.src, dl.sink, err)
	}

	if handler != nil {
		handler(dl.src, dl.sink, pad.Name(), err)
	}
}

// DeferredResolved reports whether the deferred link from src has been
// linked, and how many pads src has announced so far.
func (g *ElementGraph) DeferredResolved(src string) (bool, int) {
	g.mu.RLock()
	dl, ok := g.deferred[src]
	g.mu.RUnlock()
	if !ok {
		return false, 0
	}
	return dl.linked.Load(), int(dl.announced.Load())
}

// SetProperty sets a property on a named stage.
func (g *ElementGraph) SetProperty(stage, property string, value interface{}) error {
	s, ok := g.Stage(stage)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	if err := s.Element.SetProperty(property, value); err != nil {
		return NewElementError(ErrorTypeElementProperty, "element-graph", stage,
			fmt.Sprintf("failed to set property %s", property), err)
	}
	return nil
}

// Stage returns a stage by name.
func (g *ElementGraph) Stage(name string) (*Stage, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.stages[name]
	return s, ok
}

// StageOf returns the first stage of the given kind.
func (g *ElementGraph) StageOf(kind StageKind) (*Stage, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, name := range g.order {
		if s := g.stages[name]; s.Kind == kind {
			return s, true
		}
	}
	return nil, false
}

// Stages returns the stages in creation order.
func (g *ElementGraph) Stages() []Stage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Stage, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, *g.stages[name])
	}
	return out
}

// Links returns all static and deferred links.
func (g *ElementGraph) Links() []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Link, len(g.links))
	copy(out, g.links)
	return out
}

// Close releases the underlying pipeline.
func (g *ElementGraph) Close() error {
	return g.pipeline.Close()
}
