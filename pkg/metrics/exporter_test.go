package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/breakwater/pkg/canvas"
	"github.com/helixml/breakwater/pkg/statistics"
)

func runExporter(t *testing.T, e *Exporter) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	snapshots := make(chan statistics.Snapshot, 1)
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, snapshots) }()

	require.Eventually(t, func() bool { return e.ready.Load() }, 3*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestExporterHealthzAndMetrics(t *testing.T) {
	fb, err := canvas.New(8, 8)
	require.NoError(t, err)
	e := New("127.0.0.1:19199", fb)
	runExporter(t, e)

	resp, err := http.Get("http://127.0.0.1:19199/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get("http://127.0.0.1:19199/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Contains(t, string(body), "breakwater_frame")
}

func TestExporterDebugSnapshot(t *testing.T) {
	fb, err := canvas.New(4, 4)
	require.NoError(t, err)
	fb.Set(0, 0, 0xaabbccdd)
	e := New("127.0.0.1:19200", fb)
	runExporter(t, e)

	resp, err := http.Get("http://127.0.0.1:19200/debug/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fmt.Sprintf("%d", fb.Width()), resp.Header.Get("X-Canvas-Width"))
	body, _ := io.ReadAll(resp.Body)
	assert.Len(t, body, fb.Size()*4)
}
