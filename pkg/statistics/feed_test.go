package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAggregatesConnectionsAndBytes(t *testing.T) {
	f := New("", 0, false, zerolog.Nop())

	f.apply(ConnectionCreated{IP: "10.0.0.1"})
	f.apply(ConnectionCreated{IP: "10.0.0.1"})
	f.apply(ConnectionCreated{IP: "10.0.0.2"})
	f.apply(BytesRead{IP: "10.0.0.1", Bytes: 100})
	f.apply(BytesRead{IP: "10.0.0.1", Bytes: 50})
	f.apply(ConnectionClosed{IP: "10.0.0.2"})
	f.apply(ConnectionDenied{IP: "10.0.0.3"})
	f.apply(FrameRendered{})

	snap := f.snapshot(Snapshot{}, time.Second)
	assert.Equal(t, uint32(2), snap.ConnectionsForIP["10.0.0.1"])
	assert.NotContains(t, snap.ConnectionsForIP, "10.0.0.2")
	assert.Equal(t, uint64(150), snap.BytesForIP["10.0.0.1"])
	assert.Equal(t, uint32(1), snap.DeniedConnectionsForIP["10.0.0.3"])
	assert.Equal(t, uint64(1), snap.Frame)
	assert.Equal(t, uint32(1), snap.IPsV4)
	assert.Equal(t, uint64(8), snap.StatisticEvents)
}

func TestSendIsNonBlockingWhenFull(t *testing.T) {
	f := New("", 0, false, zerolog.Nop())
	for i := 0; i < 200; i++ {
		f.Send(FrameRendered{})
	}
	assert.LessOrEqual(t, len(f.events), cap(f.events))
}

func TestRunBroadcastsSnapshots(t *testing.T) {
	f := New("", 0, false, zerolog.Nop())
	sub := f.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	f.Send(ConnectionCreated{IP: "127.0.0.1"})

	select {
	case snap := <-sub:
		_ = snap
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a broadcast snapshot")
	}

	cancel()
	require.NoError(t, <-done)
}
