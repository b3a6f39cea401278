package statistics

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// ReportInterval is how often Run aggregates pending events into a
// Snapshot and fans it out to subscribers.
const ReportInterval = 1 * time.Second

// Snapshot is a point-in-time aggregated view of everything the feed
// has observed, broadcast to subscribers every ReportInterval and
// optionally persisted to disk. Field names and JSON tags mirror the
// original StatisticsInformationEvent so an existing save file from a
// prior run decodes unchanged.
type Snapshot struct {
	Frame       uint64 `json:"frame"`
	Connections uint32 `json:"connections"`
	IPsV6       uint32 `json:"ips_v6"`
	IPsV4       uint32 `json:"ips_v4"`
	Bytes       uint64 `json:"bytes"`
	FPS         uint64 `json:"fps"`
	BytesPerSec uint64 `json:"bytes_per_s"`

	ConnectionsForIP       map[string]uint32 `json:"connections_for_ip"`
	DeniedConnectionsForIP map[string]uint32 `json:"denied_connections_for_ip"`
	BytesForIP             map[string]uint64 `json:"bytes_for_ip"`

	StatisticEvents uint64 `json:"statistic_events"`
}

// Feed is the single consumer of the statistics event channel: it
// owns all aggregation state and must only be mutated from Run's
// goroutine. Producers (the connection loop, display sinks) only ever
// call Send, which is safe to call from anywhere.
type Feed struct {
	events chan Event

	saveFile       string
	saveInterval   time.Duration
	persistEnabled bool
	logger         zerolog.Logger

	subMu sync.Mutex
	subs  []chan Snapshot

	frame                  uint64
	statisticEvents        uint64
	connectionsForIP       map[string]uint32
	deniedConnectionsForIP map[string]uint32
	bytesForIP             map[string]uint64

	bytesPerSecWindow simpleMovingAverage
	fpsWindow         simpleMovingAverage
}

// New returns a Feed with a 100-capacity event channel, per spec.md
// §5. saveFile/saveInterval/persistEnabled configure the periodic
// JSON persistence job Run schedules; an empty saveFile or
// persistEnabled=false disables it entirely.
func New(saveFile string, saveInterval time.Duration, persistEnabled bool, logger zerolog.Logger) *Feed {
	f := &Feed{
		events:                 make(chan Event, 100),
		saveFile:               saveFile,
		saveInterval:           saveInterval,
		persistEnabled:         persistEnabled,
		logger:                 logger,
		connectionsForIP:       make(map[string]uint32),
		deniedConnectionsForIP: make(map[string]uint32),
		bytesForIP:             make(map[string]uint64),
	}

	if persistEnabled && saveFile != "" {
		if snap, err := loadSnapshot(saveFile); err == nil {
			f.statisticEvents = snap.StatisticEvents
			f.frame = snap.Frame
			for ip, b := range snap.BytesForIP {
				f.bytesForIP[ip] = b
			}
			logger.Info().Str("file", saveFile).Msg("loaded statistics from save file")
		}
	}

	return f
}

// Send enqueues an event without blocking. A full channel (the
// connection loop producing faster than Run can drain) drops the
// event rather than stall the hot path — per spec.md §5, senders must
// never be allowed to back-pressure the connection loop.
func (f *Feed) Send(e Event) {
	select {
	case f.events <- e:
	default:
	}
}

// Subscribe registers a lossy broadcast channel (capacity 2) that
// receives every snapshot Run produces. A subscriber that falls
// behind has its oldest pending snapshot dropped to make room for the
// newest one — fan-out is lossy by design, never blocking.
func (f *Feed) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 2)
	f.subMu.Lock()
	f.subs = append(f.subs, ch)
	f.subMu.Unlock()
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe.
func (f *Feed) Unsubscribe(ch <-chan Snapshot) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for i, s := range f.subs {
		if s == ch {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

func (f *Feed) broadcast(snap Snapshot) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Run drains the event channel, aggregates events into a Snapshot
// every ReportInterval, and broadcasts it to subscribers. If
// persistence is enabled it also registers a gocron job that writes
// the latest snapshot to disk on saveInterval. Run blocks until ctx is
// cancelled.
func (f *Feed) Run(ctx context.Context) error {
	var latest Snapshot

	var scheduler gocron.Scheduler
	if f.persistEnabled && f.saveFile != "" {
		s, err := gocron.NewScheduler()
		if err != nil {
			return err
		}
		scheduler = s
		_, err = scheduler.NewJob(
			gocron.DurationJob(f.saveInterval),
			gocron.NewTask(func() {
				if err := saveSnapshot(f.saveFile, latest); err != nil {
					f.logger.Warn().Err(err).Msg("failed to persist statistics snapshot")
				}
			}),
		)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() { _ = scheduler.Shutdown() }()
	}

	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			f.apply(ev)
		case <-ticker.C:
			latest = f.snapshot(latest, ReportInterval)
			f.broadcast(latest)
		}
	}
}

func (f *Feed) apply(ev Event) {
	f.statisticEvents++
	switch e := ev.(type) {
	case ConnectionCreated:
		f.connectionsForIP[e.IP]++
	case ConnectionClosed:
		if n, ok := f.connectionsForIP[e.IP]; ok {
			if n <= 1 {
				delete(f.connectionsForIP, e.IP)
			} else {
				f.connectionsForIP[e.IP] = n - 1
			}
		}
	case ConnectionDenied:
		f.deniedConnectionsForIP[e.IP]++
	case BytesRead:
		f.bytesForIP[e.IP] += e.Bytes
	case FrameRendered:
		f.frame++
	}
}

func (f *Feed) snapshot(prev Snapshot, elapsed time.Duration) Snapshot {
	elapsedMs := uint64(elapsed.Milliseconds())
	if elapsedMs == 0 {
		elapsedMs = 1
	}

	var connections uint32
	var ipsV6, ipsV4 uint32
	connectionsForIP := make(map[string]uint32, len(f.connectionsForIP))
	for ip, n := range f.connectionsForIP {
		connections += n
		connectionsForIP[ip] = n
		if isIPv4(ip) {
			ipsV4++
		} else {
			ipsV6++
		}
	}

	var bytes uint64
	bytesForIP := make(map[string]uint64, len(f.bytesForIP))
	for ip, b := range f.bytesForIP {
		bytes += b
		bytesForIP[ip] = b
	}

	deniedForIP := make(map[string]uint32, len(f.deniedConnectionsForIP))
	for ip, n := range f.deniedConnectionsForIP {
		deniedForIP[ip] = n
	}

	f.bytesPerSecWindow.AddSample((bytes - prev.Bytes) * 1000 / elapsedMs)
	f.fpsWindow.AddSample((f.frame - prev.Frame) * 1000 / elapsedMs)

	return Snapshot{
		Frame:                  f.frame,
		Connections:            connections,
		IPsV6:                  ipsV6,
		IPsV4:                  ipsV4,
		Bytes:                  bytes,
		FPS:                    f.fpsWindow.Average(),
		BytesPerSec:            f.bytesPerSecWindow.Average(),
		ConnectionsForIP:       connectionsForIP,
		DeniedConnectionsForIP: deniedForIP,
		BytesForIP:             bytesForIP,
		StatisticEvents:        f.statisticEvents,
	}
}
