package gogst

import (
	"testing"

	"github.com/go-gst/go-gst/gst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

var (
	_ gstreamer.Framework = (*Framework)(nil)
	_ gstreamer.MainLoop  = (*mainLoop)(nil)
	_ gstreamer.Pipeline  = (*pipeline)(nil)
	_ gstreamer.Element   = (*element)(nil)
	_ gstreamer.Pad       = (*gstPad)(nil)
)

func TestStateMapping(t *testing.T) {
	for _, state := range []gstreamer.PipelineState{
		gstreamer.PipelineStateNull,
		gstreamer.PipelineStateReady,
		gstreamer.PipelineStatePaused,
		gstreamer.PipelineStatePlaying,
	} {
		assert.Equal(t, state, fromGstState(toGstState(state)), state.String())
	}
	assert.Equal(t, gstreamer.PipelineStateNull, fromGstState(gst.StateVoidPending))
}

func TestFramework_BuildsTestPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a GStreamer installation")
	}

	fw := New()
	p, err := fw.NewPipeline("gogst-test")
	require.NoError(t, err)
	defer p.Close()

	src, err := p.CreateElement("audiotestsrc", "src")
	if err != nil {
		t.Skipf("base plugins not installed: %v", err)
	}
	sink, err := p.CreateElement("fakesink", "sink")
	require.NoError(t, err)

	require.NoError(t, src.SetProperty("num-buffers", 1))

	var linked []string
	require.NoError(t, p.OnPadAdded(src, func(pad gstreamer.Pad) {
		linked = append(linked, pad.Name())
		assert.NoError(t, pad.Link(sink))
	}))
	assert.Equal(t, []string{"src"}, linked, "static source pads resolve immediately")

	require.NoError(t, p.SetState(gstreamer.PipelineStatePaused))
	require.NoError(t, p.SetState(gstreamer.PipelineStateNull))

	_, err = p.CreateElement("no-such-factory-xyz", "missing")
	assert.Error(t, err)
}

func TestPostedBy_ComparesSourceObject(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a GStreamer installation")
	}

	p, err := New().NewPipeline("same-name")
	require.NoError(t, err)
	defer p.Close()

	gp := p.(*pipeline)
	child, err := p.CreateElement("fakesink", "same-name")
	if err != nil {
		t.Skipf("core plugins not installed: %v", err)
	}

	fromChild := gst.NewEOSMessage(child.(*element).elem)
	fromPipeline := gst.NewEOSMessage(gp.pipeline)

	assert.False(t, gp.convert(fromChild).FromPipeline, "child sharing the pipeline name")
	assert.True(t, gp.convert(fromPipeline).FromPipeline)
	assert.Equal(t, "same-name", gp.convert(fromChild).Source)
}
