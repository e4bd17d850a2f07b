package gogst

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-gst/go-gst/gst"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

type pipeline struct {
	name     string
	pipeline *gst.Pipeline
	logger   *logrus.Entry

	// The bus accepts a single watch; the handler behind it is swapped.
	watchOnce sync.Once
	handler   atomic.Pointer[func(*gstreamer.Message)]
	closed    atomic.Bool
}

func (p *pipeline) Name() string { return p.name }

func (p *pipeline) CreateElement(factory, name string) (gstreamer.Element, error) {
	if p.closed.Load() {
		return nil, gstreamer.ErrPipelineClosed
	}
	elem, err := gst.NewElementWithName(factory, name)
	if err != nil {
		return nil, fmt.Errorf("no such element factory %q: %w", factory, err)
	}
	if err := p.pipeline.Add(elem); err != nil {
		return nil, fmt.Errorf("failed to add %s to %s: %w", name, p.name, err)
	}
	return &element{elem: elem, factory: factory}, nil
}

func (p *pipeline) Link(src, sink gstreamer.Element) error {
	s, t, err := unwrapPair(src, sink)
	if err != nil {
		return err
	}
	return s.elem.Link(t.elem)
}

func (p *pipeline) OnPadAdded(src gstreamer.Element, fn func(gstreamer.Pad)) error {
	e, ok := src.(*element)
	if !ok {
		return fmt.Errorf("element %s does not belong to this backend", src.Name())
	}

	if _, err := e.elem.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		p.logger.Debugf("Pad %s added on %s", pad.GetName(), self.GetName())
		fn(&gstPad{pad: pad})
	}); err != nil {
		return fmt.Errorf("failed to connect pad-added on %s: %w", e.Name(), err)
	}

	// Sources with an always-present output never emit pad-added.
	if static := e.elem.GetStaticPad("src"); static != nil {
		fn(&gstPad{pad: static})
	}
	return nil
}

func (p *pipeline) SetState(state gstreamer.PipelineState) error {
	if p.closed.Load() && state != gstreamer.PipelineStateNull {
		return gstreamer.ErrPipelineClosed
	}
	return p.pipeline.SetState(toGstState(state))
}

func (p *pipeline) CurrentState() gstreamer.PipelineState {
	return fromGstState(p.pipeline.GetCurrentState())
}

// Watch installs handler for bus messages. Messages are dispatched on the
// default main context, which loop runs.
func (p *pipeline) Watch(loop gstreamer.MainLoop, handler func(*gstreamer.Message)) error {
	if p.closed.Load() {
		return gstreamer.ErrPipelineClosed
	}
	if loop == nil {
		return fmt.Errorf("no main loop to dispatch bus messages of %s", p.name)
	}
	p.handler.Store(&handler)

	p.watchOnce.Do(func() {
		p.pipeline.GetPipelineBus().AddWatch(func(msg *gst.Message) bool {
			h := p.handler.Load()
			if h == nil || *h == nil {
				return true
			}
			if m := p.convert(msg); m != nil {
				(*h)(m)
			}
			return true
		})
	})
	return nil
}

func (p *pipeline) Unwatch() {
	p.handler.Store(nil)
}

func (p *pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.handler.Store(nil)
	return p.pipeline.SetState(gst.StateNull)
}

func (p *pipeline) convert(msg *gst.Message) *gstreamer.Message {
	m := &gstreamer.Message{
		Source:       msg.Source(),
		FromPipeline: postedBy(msg, p.pipeline.Object),
	}

	switch msg.Type() {
	case gst.MessageError:
		gerr := msg.ParseError()
		m.Type = gstreamer.MessageError
		m.Err = errors.New(gerr.Error())
		m.Debug = gerr.DebugString()
	case gst.MessageWarning:
		gerr := msg.ParseWarning()
		m.Type = gstreamer.MessageWarning
		m.Err = errors.New(gerr.Error())
		m.Debug = gerr.DebugString()
	case gst.MessageStateChanged:
		oldState, newState := msg.ParseStateChanged()
		m.Type = gstreamer.MessageStateChanged
		m.OldState = fromGstState(oldState)
		m.NewState = fromGstState(newState)
	case gst.MessageEOS:
		m.Type = gstreamer.MessageEOS
	default:
		m.Type = gstreamer.MessageOther
	}
	return m
}

type element struct {
	elem    *gst.Element
	factory string
}

func (e *element) Name() string    { return e.elem.GetName() }
func (e *element) Factory() string { return e.factory }

func (e *element) SetProperty(name string, value interface{}) error {
	switch v := value.(type) {
	case gstreamer.Caps:
		caps := gst.NewCapsFromString(string(v))
		if caps == nil {
			return fmt.Errorf("invalid caps %q", string(v))
		}
		return e.elem.SetProperty(name, caps)
	default:
		return e.elem.SetProperty(name, value)
	}
}

func (e *element) GetProperty(name string) (interface{}, error) {
	return e.elem.GetProperty(name)
}

type gstPad struct {
	pad *gst.Pad
}

func (p *gstPad) Name() string { return p.pad.GetName() }

func (p *gstPad) Link(sink gstreamer.Element) error {
	t, ok := sink.(*element)
	if !ok {
		return fmt.Errorf("element %s does not belong to this backend", sink.Name())
	}
	sinkPad := t.elem.GetStaticPad("sink")
	if sinkPad == nil {
		return fmt.Errorf("element %s has no sink pad", t.Name())
	}
	if sinkPad.IsLinked() {
		return gstreamer.ErrPadAlreadyLinked
	}
	if ret := p.pad.Link(sinkPad); ret != gst.PadLinkOK {
		return fmt.Errorf("failed to link pad %s to %s: %v", p.Name(), t.Name(), ret)
	}
	return nil
}

func unwrapPair(src, sink gstreamer.Element) (*element, *element, error) {
	s, ok := src.(*element)
	if !ok {
		return nil, nil, fmt.Errorf("element %s does not belong to this backend", src.Name())
	}
	t, ok := sink.(*element)
	if !ok {
		return nil, nil, fmt.Errorf("element %s does not belong to this backend", sink.Name())
	}
	return s, t, nil
}
