package gstreamer

import (
	"fmt"
	"strings"
)

// Framework is the media runtime the pipelines are built on. The go-gst
// backend lives in the gogst subpackage; SimulatedFramework is an in-memory
// implementation used for dry runs and tests.
type Framework interface {
	Name() string
	NewPipeline(name string) (Pipeline, error)
	NewMainLoop() (MainLoop, error)
}

// MainLoop is the event loop owned by the worker goroutine.
type MainLoop interface {
	// Run blocks until Quit is called. onStarted is invoked from inside the
	// running loop, once.
	Run(onStarted func())
	Quit()
	IsRunning() bool
	// Invoke schedules fn on the loop.
	Invoke(fn func())
}

// Pipeline is a top-level bin holding the elements of one graph.
type Pipeline interface {
	Name() string
	CreateElement(factory, name string) (Element, error)
	Link(src, sink Element) error
	// OnPadAdded subscribes fn to new output pads announced by src.
	OnPadAdded(src Element, fn func(Pad)) error
	SetState(state PipelineState) error
	CurrentState() PipelineState
	// Watch installs the bus handler. Handlers run on the given loop.
	Watch(loop MainLoop, handler func(*Message)) error
	Unwatch()
	Close() error
}

// Element is one processing stage inside a pipeline.
type Element interface {
	Name() string
	Factory() string
	SetProperty(name string, value interface{}) error
	GetProperty(name string) (interface{}, error)
}

// Pad is an output connection point announced at runtime.
type Pad interface {
	Name() string
	// Link connects the pad to the "sink" pad of the given element.
	Link(sink Element) error
}

// PipelineState represents the state of a GStreamer pipeline
type PipelineState int

const (
	PipelineStateNull PipelineState = iota
	PipelineStateReady
	PipelineStatePaused
	PipelineStatePlaying
)

// String returns the GStreamer name of the state.
func (s PipelineState) String() string {
	switch s {
	case PipelineStateNull:
		return "NULL"
	case PipelineStateReady:
		return "READY"
	case PipelineStatePaused:
		return "PAUSED"
	case PipelineStatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MessageType classifies bus messages.
type MessageType int

const (
	MessageOther MessageType = iota
	MessageError
	MessageWarning
	MessageStateChanged
	MessageEOS
)

func (t MessageType) String() string {
	switch t {
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageStateChanged:
		return "state-changed"
	case MessageEOS:
		return "eos"
	default:
		return "other"
	}
}

// Message is a backend-neutral copy of a bus message.
type Message struct {
	Type   MessageType
	Source string
	// FromPipeline is set when the top-level pipeline posted the message.
	FromPipeline bool

	Err   error
	Debug string

	OldState PipelineState
	NewState PipelineState
}

// MediaKind selects one of the two pipelines.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
)

func (k MediaKind) String() string {
	if k == MediaAudio {
		return "audio"
	}
	return "video"
}

// StageKind is the type tag of an element inside an ElementGraph.
type StageKind int

const (
	StageCaptureSource StageKind = iota
	StageQueue
	StageFormatFilter
	StageConverter
	StageEncoder
	StageNetworkSink
)

func (k StageKind) String() string {
	switch k {
	case StageCaptureSource:
		return "capture-source"
	case StageQueue:
		return "queue"
	case StageFormatFilter:
		return "format-filter"
	case StageConverter:
		return "converter"
	case StageEncoder:
		return "encoder"
	case StageNetworkSink:
		return "network-sink"
	default:
		return "unknown"
	}
}

// LinkKind distinguishes links applied at construction from links resolved
// when the upstream element announces a pad.
type LinkKind int

const (
	LinkStatic LinkKind = iota
	LinkDeferred
)

func (k LinkKind) String() string {
	if k == LinkDeferred {
		return "deferred"
	}
	return "static"
}

// Caps is a caps description such as "video/x-raw,width=320,height=240".
type Caps string

// Media returns the media type part of the caps.
func (c Caps) Media() string {
	media, _, _ := strings.Cut(string(c), ",")
	return strings.TrimSpace(media)
}
