package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	MessagesSent   atomic.Int64 // signaling messages handed to the relay
	MessagesRecv   atomic.Int64 // signaling messages received from the relay
	Dropped        atomic.Int64 // inbound messages discarded (bad state, duplicate, foreign)
	GlareResolved  atomic.Int64 // concurrent offers settled by the polite/impolite rule
	Renegotiations atomic.Int64 // offers sent after the initial handshake
}

func (s *stats) AddSent()          { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()          { s.MessagesRecv.Add(1) }
func (s *stats) AddDropped()       { s.Dropped.Add(1) }
func (s *stats) AddGlare()         { s.GlareResolved.Add(1) }
func (s *stats) AddRenegotiation() { s.Renegotiations.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, dropped, glare, renego int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:    s.MessagesSent.Load(),
		recv:    s.MessagesRecv.Load(),
		dropped: s.Dropped.Load(),
		glare:   s.GlareResolved.Load(),
		renego:  s.Renegotiations.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, skipping intervals in which nothing changed. It stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur, prev))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the counters and their change since the last report.
func formatStats(cur, prev snapshot) string {
	return fmt.Sprintf("Msgs: %d↑ %d↓ (+%d/+%d) | Dropped: %d | Glare: %d | Renego: %d",
		cur.sent,
		cur.recv,
		cur.sent-prev.sent,
		cur.recv-prev.recv,
		cur.dropped,
		cur.glare,
		cur.renego,
	)
}
