// Package vnc implements a minimal RFB 3.8 server as a
// sinks.DisplaySink: handshake, ServerInit, raw-encoding framebuffer
// updates, and keyboard/pointer messages read and discarded. It is a
// thin protocol adapter over canvas.AsBytes(), not a rendering
// pipeline — no compression, no incremental damage tracking, no
// alternate encodings.
package vnc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/helixml/breakwater/pkg/canvas"
)

const (
	protocolVersion = "RFB 003.008\n"
	serverName      = "breakwater"

	msgFramebufferUpdate = 0
	msgSetColorMapEntries = 1
	msgBell               = 2
	msgServerCutText      = 3

	cliSetPixelFormat       = 0
	cliFixColorMapEntries   = 1
	cliSetEncodings         = 2
	cliFramebufferUpdateReq = 3
	cliKeyEvent             = 4
	cliPointerEvent         = 5
	cliClientCutText        = 6
)

// Sink serves RFB clients on ListenAddress. Framebuffer updates are
// sent only in reply to a client's update request, throttled to at
// most FPS frames per second per client.
type Sink struct {
	ListenAddress string
	FPS           int
}

// New builds a Sink from the given listen address and frame cap.
func New(listenAddress string, fps int) *Sink {
	if fps <= 0 {
		fps = 30
	}
	return &Sink{ListenAddress: listenAddress, FPS: fps}
}

// Run implements sinks.DisplaySink: it accepts RFB connections until
// ctx is cancelled, driving each client off the shared framebuffer.
func (s *Sink) Run(ctx context.Context, fb *canvas.Framebuffer, frames <-chan struct{}) error {
	ln, err := net.Listen("tcp", s.ListenAddress)
	if err != nil {
		return fmt.Errorf("vnc: listen on %s: %w", s.ListenAddress, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Str("address", s.ListenAddress).Msg("vnc sink accepting connections")

	minInterval := time.Second / time.Duration(s.FPS)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("vnc: accept: %w", err)
			}
		}
		go serveClient(ctx, conn, fb, minInterval)
	}
}

func serveClient(ctx context.Context, conn net.Conn, fb *canvas.Framebuffer, minInterval time.Duration) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	if err := handshake(r, conn, fb); err != nil {
		log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("vnc handshake failed")
		return
	}

	lastUpdate := time.Time{}
	buf := make([]byte, 32)
	for {
		if ctx.Err() != nil {
			return
		}

		cmd, err := r.ReadByte()
		if err != nil {
			return
		}

		switch cmd {
		case cliSetPixelFormat:
			// 3 bytes padding + 16 byte PIXEL_FORMAT; we only ever
			// serve our own fixed format, so the client's request is
			// read and ignored.
			if _, err := readFull(r, buf[:19]); err != nil {
				return
			}
		case cliFixColorMapEntries:
			if _, err := readFull(r, buf[:5]); err != nil {
				return
			}
			cnt := int(binary.BigEndian.Uint16(buf[3:5]))
			if err := discard(r, cnt*6); err != nil {
				return
			}
		case cliSetEncodings:
			if _, err := readFull(r, buf[:3]); err != nil {
				return
			}
			cnt := int(binary.BigEndian.Uint16(buf[1:3]))
			if err := discard(r, cnt*4); err != nil {
				return
			}
		case cliFramebufferUpdateReq:
			if _, err := readFull(r, buf[:9]); err != nil {
				return
			}
			if wait := minInterval - time.Since(lastUpdate); wait > 0 {
				time.Sleep(wait)
			}
			if err := sendFullUpdate(conn, fb); err != nil {
				return
			}
			lastUpdate = time.Now()
		case cliKeyEvent:
			if _, err := readFull(r, buf[:7]); err != nil {
				return
			}
		case cliPointerEvent:
			if _, err := readFull(r, buf[:5]); err != nil {
				return
			}
		case cliClientCutText:
			if _, err := readFull(r, buf[:7]); err != nil {
				return
			}
			n := int(binary.BigEndian.Uint32(buf[3:7]))
			if err := discard(r, n); err != nil {
				return
			}
		default:
			log.Debug().Uint8("cmd", cmd).Msg("vnc: unknown client message, dropping connection")
			return
		}
	}
}

// handshake negotiates RFB 3.8, "None" security, reads ClientInit and
// replies with ServerInit advertising a 32bpp truecolor pixel format
// whose shifts line up with the framebuffer's native AsBytes() byte
// order (R,G,B,A per pixel, little-endian), so raw updates are a
// direct copy with no per-pixel reshuffling.
func handshake(r *bufio.Reader, w net.Conn, fb *canvas.Framebuffer) error {
	if _, err := w.Write([]byte(protocolVersion)); err != nil {
		return err
	}
	clientVersion := make([]byte, 12)
	if _, err := readFull(r, clientVersion); err != nil {
		return err
	}

	// One security type: None (1).
	if _, err := w.Write([]byte{1, 1}); err != nil {
		return err
	}
	chosen := make([]byte, 1)
	if _, err := readFull(r, chosen); err != nil {
		return err
	}
	// SecurityResult: OK.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	// ClientInit: one byte, shared-flag. We always share the canvas.
	clientInit := make([]byte, 1)
	if _, err := readFull(r, clientInit); err != nil {
		return err
	}

	name := []byte(serverName)
	buf := make([]byte, 24+len(name))
	binary.BigEndian.PutUint16(buf[0:2], uint16(fb.Width()))
	binary.BigEndian.PutUint16(buf[2:4], uint16(fb.Height()))
	buf[4] = 32  // bits-per-pixel
	buf[5] = 24  // depth
	buf[6] = 0   // big-endian-flag: our pixel data is little-endian
	buf[7] = 1   // true-color-flag
	binary.BigEndian.PutUint16(buf[8:10], 255)  // red-max
	binary.BigEndian.PutUint16(buf[10:12], 255) // green-max
	binary.BigEndian.PutUint16(buf[12:14], 255) // blue-max
	buf[14] = 0  // red-shift
	buf[15] = 8  // green-shift
	buf[16] = 16 // blue-shift
	// buf[17:20] padding, already zero
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(name)))
	copy(buf[24:], name)
	_, err := w.Write(buf)
	return err
}

// sendFullUpdate sends a single raw-encoded rectangle covering the
// entire canvas. Incremental damage tracking is left to a future
// encoder; every request gets the full frame.
func sendFullUpdate(w net.Conn, fb *canvas.Framebuffer) error {
	header := make([]byte, 16)
	header[0] = msgFramebufferUpdate
	// header[1] padding
	binary.BigEndian.PutUint16(header[2:4], 1) // number-of-rectangles
	binary.BigEndian.PutUint16(header[4:6], 0)  // x
	binary.BigEndian.PutUint16(header[6:8], 0)  // y
	binary.BigEndian.PutUint16(header[8:10], uint16(fb.Width()))
	binary.BigEndian.PutUint16(header[10:12], uint16(fb.Height()))
	binary.BigEndian.PutUint32(header[12:16], 0) // encoding-type: Raw
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(fb.AsBytes())
	return err
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func discard(r *bufio.Reader, n int) error {
	_, err := r.Discard(n)
	return err
}
