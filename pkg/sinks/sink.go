// Package sinks defines the consumer contract that display sinks
// implement against a live framebuffer.
package sinks

import (
	"context"

	"github.com/helixml/breakwater/pkg/canvas"
)

// DisplaySink consumes a framebuffer's pixel data on some external
// cadence — a VNC client, a recording pipeline, a native window — and
// runs until ctx is cancelled. frames is closed by the driver, not by
// the sink; a sink that doesn't care about frame boundaries (e.g. one
// that polls on its own timer) may simply ignore it.
type DisplaySink interface {
	Run(ctx context.Context, fb *canvas.Framebuffer, frames <-chan struct{}) error
}
