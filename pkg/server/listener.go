// Package server implements the Pixelflut Connection Loop and
// Listener: per-connection receive buffers with a sliding leftover
// region, and the TCP accept loop that spawns one loop per client.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/helixml/breakwater/pkg/canvas"
	"github.com/helixml/breakwater/pkg/config"
	"github.com/helixml/breakwater/pkg/statistics"
)

// MinNetworkBufferSize and MaxNetworkBufferSize bound
// config.Server.NetworkBufferSize, per spec.md §6's CLI table.
const (
	MinNetworkBufferSize = 64_000
	MaxNetworkBufferSize = 100_000_000
)

// Listener accepts Pixelflut connections on a TCP socket and drives
// one connection loop per client against a shared framebuffer.
type Listener struct {
	cfg   config.Server
	fb    *canvas.Framebuffer
	stats *statistics.Feed
	ln    net.Listener

	mu    sync.Mutex
	perIP map[string]int
}

// NewListener binds cfg.ListenAddress (dual-stack "[::]" by default,
// per spec.md §4.4) and returns a Listener ready for Run.
func NewListener(cfg config.Server, fb *canvas.Framebuffer, stats *statistics.Feed) (*Listener, error) {
	if cfg.NetworkBufferSize < MinNetworkBufferSize || cfg.NetworkBufferSize > MaxNetworkBufferSize {
		return nil, fmt.Errorf("server: network buffer size %d outside [%d, %d]",
			cfg.NetworkBufferSize, MinNetworkBufferSize, MaxNetworkBufferSize)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", cfg.ListenAddress, err)
	}

	return &Listener{
		cfg:   cfg,
		fb:    fb,
		stats: stats,
		ln:    ln,
		perIP: make(map[string]int),
	}, nil
}

// Addr returns the listener's bound address, useful for tests that
// bind to an ephemeral port.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Run accepts connections until ctx is cancelled, spawning one
// goroutine per connection. It closes the listener from a background
// goroutine on cancellation to unblock the in-flight Accept call, the
// same idiom the teacher's cursor socket listener uses.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	log.Info().Str("address", l.cfg.ListenAddress).Msg("pixelflut listener accepting connections")

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		go l.handleConnection(ctx, conn)
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ip := canonicalizeIP(conn)
	logger := log.With().Str("conn_id", uuid.NewString()).Str("ip", ip).Logger()

	if l.cfg.ConnectionsPerIP > 0 && !l.acquireSlot(ip) {
		l.stats.Send(statistics.ConnectionDenied{IP: ip})
		_, _ = conn.Write([]byte("Too many connections from your IP, try again later\n"))
		logger.Warn().Int("cap", l.cfg.ConnectionsPerIP).Msg("connection denied: per-IP cap exceeded")
		return
	}
	if l.cfg.ConnectionsPerIP > 0 {
		defer l.releaseSlot(ip)
	}

	l.stats.Send(statistics.ConnectionCreated{IP: ip})
	defer l.stats.Send(statistics.ConnectionClosed{IP: ip})

	logger.Debug().Msg("connection accepted")
	runConnection(ctx, conn, l.fb, l.stats, ip, l.cfg.NetworkBufferSize, logger)
	logger.Debug().Msg("connection closed")
}

func (l *Listener) acquireSlot(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perIP[ip] >= l.cfg.ConnectionsPerIP {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *Listener) releaseSlot(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perIP[ip] <= 1 {
		delete(l.perIP, ip)
		return
	}
	l.perIP[ip]--
}
