package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/breakwater/pkg/canvas"
	"github.com/helixml/breakwater/pkg/statistics"
)

func TestRunConnectionRoundTrip(t *testing.T) {
	fb, err := canvas.New(64, 64)
	require.NoError(t, err)
	stats := statistics.New("", 0, false, zerolog.Nop())

	client, srv := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		runConnection(ctx, srv, fb, stats, "127.0.0.1", MinNetworkBufferSize, zerolog.Nop())
		close(done)
	}()

	_, err = client.Write([]byte("PX 1 1 ff00ff\nPX 1 1\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp := make([]byte, 64)
	n, err := client.Read(resp)
	require.NoError(t, err)
	assert.Equal(t, "PX 1 1 ff00ff\n", string(resp[:n]))

	client.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection loop did not exit after client close")
	}

	got, ok := fb.Get(1, 1)
	require.True(t, ok)
	assert.Equal(t, uint32(0x00ff00ff), got)
}

func TestRunConnectionExitsOnContextCancel(t *testing.T) {
	fb, err := canvas.New(16, 16)
	require.NoError(t, err)
	stats := statistics.New("", 0, false, zerolog.Nop())

	client, srv := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runConnection(ctx, srv, fb, stats, "127.0.0.1", MinNetworkBufferSize, zerolog.Nop())
		close(done)
	}()

	cancel()

	// runConnection only notices cancellation between reads; give it a
	// nudge by closing the client side so the blocked Read unblocks.
	go func() {
		time.Sleep(50 * time.Millisecond)
		client.Close()
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection loop did not exit")
	}
}
