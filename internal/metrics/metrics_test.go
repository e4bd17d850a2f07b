package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/gst-udpstream/internal/bridge"
	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
	"github.com/open-beagle/gst-udpstream/internal/stream"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.False(t, m.IsRunning())

	require.NoError(t, m.Start(), "start is a no-op when external metrics are disabled")
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), ErrServerNotRunning)

	_, err = m.RegisterCounter("things_total", "Things", []string{"kind"})
	require.NoError(t, err)
	_, err = m.RegisterCounter("things_total", "Things", []string{"kind"})
	assert.ErrorIs(t, err, ErrMetricAlreadyRegistered)

	cfg := config.DefaultMetricsConfig()
	cfg.External.Enabled = true
	cfg.External.Port = 0
	_, err = NewMetrics(cfg)
	assert.Error(t, err)
}

func TestMetrics_ExternalServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.DefaultMetricsConfig()
	cfg.External.Enabled = true
	cfg.External.Host = "127.0.0.1"
	cfg.External.Port = port

	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()
	assert.ErrorIs(t, m.Start(), ErrServerAlreadyRunning)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "go_goroutines")
}

func TestStreamMetrics(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	sm, err := NewStreamMetrics(m)
	require.NoError(t, err)

	sm.ObserveBuild(gstreamer.MediaVideo, false, 2*time.Millisecond, nil)
	sm.ObserveBuild(gstreamer.MediaAudio, true, time.Millisecond, nil)
	sm.ObserveBuild(gstreamer.MediaVideo, false, time.Millisecond, errors.New("no encoder"))
	sm.SetRunning(gstreamer.MediaVideo, true)
	sm.SetRunning(gstreamer.MediaAudio, false)

	expected := `
# HELP gst_udpstream_pipeline_builds_total Pipeline graph construction attempts
# TYPE gst_udpstream_pipeline_builds_total counter
gst_udpstream_pipeline_builds_total{kind="audio",result="degraded"} 1
gst_udpstream_pipeline_builds_total{kind="video",result="failed"} 1
gst_udpstream_pipeline_builds_total{kind="video",result="success"} 1
# HELP gst_udpstream_pipeline_running Whether the pipeline is streaming (1) or stopped (0)
# TYPE gst_udpstream_pipeline_running gauge
gst_udpstream_pipeline_running{kind="audio"} 0
gst_udpstream_pipeline_running{kind="video"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.GetRegistry(), strings.NewReader(expected),
		"gst_udpstream_pipeline_builds_total", "gst_udpstream_pipeline_running"))

	count, err := testutil.GatherAndCount(m.GetRegistry(), "gst_udpstream_pipeline_build_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = NewStreamMetrics(m)
	assert.ErrorIs(t, err, ErrMetricAlreadyRegistered)
}

func TestManager_BindTracksPipeline(t *testing.T) {
	manager, err := NewManager(config.DefaultMetricsConfig())
	require.NoError(t, err)

	fw := gstreamer.NewSimulatedFramework(gstreamer.DefaultSimulatedOptions())
	b := bridge.New(bridge.NewReflectRuntime())
	native := stream.NewNative(fw, config.DefaultGStreamerConfig(), b)
	manager.Bind(native, b)

	require.NoError(t, native.Controller().StartVideo("10.0.0.2"))

	expected := `
# HELP gst_udpstream_pipeline_builds_total Pipeline graph construction attempts
# TYPE gst_udpstream_pipeline_builds_total counter
gst_udpstream_pipeline_builds_total{kind="video",result="success"} 1
# HELP gst_udpstream_deferred_links_total Dynamic pads linked after activation
# TYPE gst_udpstream_deferred_links_total counter
gst_udpstream_deferred_links_total{kind="video",result="ok"} 1
# HELP gst_udpstream_pipeline_running Whether the pipeline is streaming (1) or stopped (0)
# TYPE gst_udpstream_pipeline_running gauge
gst_udpstream_pipeline_running{kind="audio"} 0
gst_udpstream_pipeline_running{kind="video"} 1
`
	registry := manager.GetMetrics().GetRegistry()
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"gst_udpstream_pipeline_builds_total", "gst_udpstream_deferred_links_total", "gst_udpstream_pipeline_running"))

	require.NoError(t, native.Controller().StopVideo())
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP gst_udpstream_pipeline_running Whether the pipeline is streaming (1) or stopped (0)
# TYPE gst_udpstream_pipeline_running gauge
gst_udpstream_pipeline_running{kind="audio"} 0
gst_udpstream_pipeline_running{kind="video"} 0
`), "gst_udpstream_pipeline_running"))
}

type faultHost struct {
	NativeCustomData interface{} `native:"custom_data"`
}

func (h *faultHost) SetMessage(message string) {}
func (h *faultHost) OnGStreamerInitialized()   {}

func TestManager_BusErrorClearsRunning(t *testing.T) {
	manager, err := NewManager(config.DefaultMetricsConfig())
	require.NoError(t, err)

	fw := gstreamer.NewSimulatedFramework(gstreamer.DefaultSimulatedOptions())
	b := bridge.New(bridge.NewReflectRuntime())
	native := stream.NewNative(fw, config.DefaultGStreamerConfig(), b)
	manager.Bind(native, b)

	host := &faultHost{}
	require.True(t, native.ClassInit(host))
	require.NoError(t, native.Init(host))
	defer native.Finalize(host)
	require.Eventually(t, native.Initialized, 2*time.Second, 5*time.Millisecond)

	addr, err := stream.ParseAndEncodeAddress("10.0.0.2")
	require.NoError(t, err)
	require.NoError(t, native.StreamStart(host, addr[0], addr[1], addr[2], addr[3]))

	drain := func() {
		for i := 0; i < 3; i++ {
			done := make(chan struct{})
			require.True(t, native.Worker().Submit(func(ctx context.Context) { close(done) }))
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("worker did not drain")
			}
		}
	}
	drain()

	registry := manager.GetMetrics().GetRegistry()
	running := func(value int) string {
		return fmt.Sprintf(`
# HELP gst_udpstream_pipeline_running Whether the pipeline is streaming (1) or stopped (0)
# TYPE gst_udpstream_pipeline_running gauge
gst_udpstream_pipeline_running{kind="audio"} 0
gst_udpstream_pipeline_running{kind="video"} %d
`, value)
	}
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(running(1)), "gst_udpstream_pipeline_running"))

	sim := fw.Pipelines(gstreamer.VideoPipelineName)[0]
	sim.PostError(gstreamer.VideoSourceName, errors.New("Could not open camera"), "")
	drain()

	assert.False(t, native.Controller().VideoRunning())
	assert.Equal(t, gstreamer.PipelineStateNull, sim.CurrentState())
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(running(0)), "gst_udpstream_pipeline_running"))
}

func TestManager_Routes(t *testing.T) {
	manager, err := NewManager(config.DefaultMetricsConfig())
	require.NoError(t, err)
	require.NoError(t, manager.Start())
	defer manager.Stop()
	assert.True(t, manager.IsRunning())

	router := mux.NewRouter()
	require.NoError(t, manager.SetupRoutes(router))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["running"])
	assert.Equal(t, false, status["external_enabled"])
	assert.Contains(t, status, "uptime")
}
