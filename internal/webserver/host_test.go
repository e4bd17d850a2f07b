package webserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/gst-udpstream/internal/bridge"
)

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func TestHost_BindsAsNotificationTarget(t *testing.T) {
	host := NewHost(nil)

	class, err := bridge.ResolveClass(host)
	require.NoError(t, err)

	require.NoError(t, class.SetData(host, "state"))
	data, err := class.Data(host)
	require.NoError(t, err)
	assert.Equal(t, "state", data)
	assert.Equal(t, "state", host.NativeCustomData)
}

func TestHost_Notifications(t *testing.T) {
	host := NewHost(nil)
	assert.False(t, host.Initialized())
	assert.Empty(t, host.LastMessage())

	host.SetMessage("State changed to PAUSED")
	host.SetMessage("State changed to PLAYING")
	host.OnGStreamerInitialized()

	assert.Equal(t, "State changed to PLAYING", host.LastMessage())
	assert.Equal(t, 2, host.Messages())
	assert.True(t, host.Initialized())
	assert.Nil(t, host.Events())
}

func TestHost_InvokedThroughBridge(t *testing.T) {
	events := NewEventHub(time.Second)
	defer events.Close()
	host := NewHost(events)
	b := bridge.New(bridge.NewReflectRuntime())

	b.NotifyText(context.Background(), host, "Error received from element encoder: boom")
	b.NotifySignal(context.Background(), host, bridge.MethodOnInitialized)

	assert.Equal(t, "Error received from element encoder: boom", host.LastMessage())
	assert.True(t, host.Initialized())
	assert.EqualValues(t, 2, events.GetStats()["total_events"])
}
