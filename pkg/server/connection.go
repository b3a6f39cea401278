package server

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/helixml/breakwater/pkg/canvas"
	"github.com/helixml/breakwater/pkg/pixelflut"
	"github.com/helixml/breakwater/pkg/statistics"
)

// statsInterval is how often the connection loop batches accumulated
// bytes-read accounting into a single BytesRead event, per spec.md §4.3.
const statsInterval = 250 * time.Millisecond

// runConnection implements the exact 7-step iteration from spec.md
// §4.3: read into the buffer past any leftover tail, account bytes on
// a cadence clock, zero-fill the lookahead guard, parse, clamp and
// rotate the leftover region, and flush the response. It returns once
// the peer closes the connection, a socket error occurs, or ctx is
// cancelled.
func runConnection(ctx context.Context, conn net.Conn, fb *canvas.Framebuffer, stats *statistics.Feed, ip string, bufferSize int, logger zerolog.Logger) {
	const L = pixelflut.LookaheadBytes

	buf, err := newConnBuffer(bufferSize)
	if err != nil {
		logger.Error().Err(err).Msg("failed to allocate connection buffer")
		return
	}
	defer freeConnBuffer(buf)

	parser := pixelflut.New(fb)
	var response bytes.Buffer

	readEnd := len(buf) - L
	leftoverLen := 0
	var bytesSinceReport uint64
	lastReport := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		n, readErr := conn.Read(buf[leftoverLen:readEnd])
		if n == 0 {
			// Peer closed (or a read error with nothing delivered);
			// either way there is nothing left to parse.
			return
		}

		bytesSinceReport += uint64(n)
		if now := time.Now(); now.Sub(lastReport) >= statsInterval {
			stats.Send(statistics.BytesRead{IP: ip, Bytes: bytesSinceReport})
			logger.Trace().Str("rate", humanize.Bytes(bytesSinceReport)).Msg("bytes read")
			bytesSinceReport = 0
			lastReport = now
		}

		dataEnd := leftoverLen + n
		for i := dataEnd; i < dataEnd+L; i++ {
			buf[i] = 0
		}

		consumed, ok := parser.Parse(buf[:dataEnd+L], &response)

		// start is the first unparsed byte: right after the last
		// completed command, or the very beginning of this iteration's
		// data if nothing completed at all.
		start := 0
		if ok {
			start = consumed + 1
		}
		newLeftover := dataEnd - start
		if newLeftover > L {
			// DoS defense: never let the leftover region exceed L,
			// keeping the most recent bytes (closest to the guard).
			start = dataEnd - L
			newLeftover = L
		}
		if newLeftover > 0 {
			copy(buf[0:newLeftover], buf[start:start+newLeftover])
		}
		leftoverLen = newLeftover

		if response.Len() > 0 {
			if _, err := conn.Write(response.Bytes()); err != nil {
				return
			}
			response.Reset()
		}

		if readErr != nil {
			return
		}
	}
}
