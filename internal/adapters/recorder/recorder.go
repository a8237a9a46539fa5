// Package recorder persists tick snapshots to Postgres. Publish only buffers;
// a background flusher batches rows so database latency never reaches the
// control loop.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	// BufferSize bounds the in-memory backlog. When the database falls
	// behind, the oldest snapshots are dropped; the newest state is the
	// valuable one.
	BufferSize int
}

func (c *Config) applyDefaults() {
	if c.Table == "" {
		c.Table = "snapshots"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 10_000
	}
}

// Recorder implements ports.SnapshotObserver.
type Recorder struct {
	db  *sql.DB
	cfg Config
	obs ports.Observability

	mu  sync.Mutex
	buf []*domain.Snapshot

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(db *sql.DB, cfg Config, obs ports.Observability) *Recorder {
	cfg.applyDefaults()
	return &Recorder{
		db:   db,
		cfg:  cfg,
		obs:  obs,
		buf:  make([]*domain.Snapshot, 0, cfg.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Publish buffers one snapshot. Never blocks.
func (r *Recorder) Publish(s *domain.Snapshot) {
	r.mu.Lock()
	if len(r.buf) >= r.cfg.BufferSize {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
		r.obs.IncCounter("t8_recorder_dropped_total", 1)
	}
	r.buf = append(r.buf, s)
	r.mu.Unlock()
}

// Start launches the background flusher.
func (r *Recorder) Start() {
	go r.flushLoop()
}

// Stop terminates the flusher and writes whatever remains buffered.
func (r *Recorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Flush()
}

func (r *Recorder) flushLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.obs.LogError("recorder_flush_failed", err)
			}
		}
	}
}

// Flush writes all buffered snapshots in batches.
func (r *Recorder) Flush() error {
	for {
		batch := r.takeBatch()
		if len(batch) == 0 {
			return nil
		}
		if err := r.writeBatch(batch); err != nil {
			// The batch is lost; re-buffering it would reorder rows
			// behind snapshots published meanwhile.
			r.obs.IncCounter("t8_recorder_dropped_total", float64(len(batch)))
			return err
		}
	}
}

func (r *Recorder) takeBatch() []*domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return nil
	}
	n := r.cfg.BatchSize
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]*domain.Snapshot, n)
	copy(out, r.buf[:n])
	r.buf = append(r.buf[:0], r.buf[n:]...)
	return out
}

func (r *Recorder) writeBatch(snaps []*domain.Snapshot) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(r.cfg.Table)
	b.WriteString(" (seq, ts, run_id, ramp_status, setpoint, safety_status, voltage, current, readings) VALUES ")

	args := make([]any, 0, len(snaps)*9)
	for i, s := range snaps {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5,
			len(args)+6, len(args)+7, len(args)+8, len(args)+9))

		readings, err := json.Marshal(s.Readings)
		if err != nil {
			return fmt.Errorf("marshal readings: %w", err)
		}
		args = append(args,
			s.Seq,
			s.Time,
			s.Ramp.RunID,
			string(s.Ramp.Status),
			s.Ramp.Setpoint,
			string(s.Safety.Status),
			s.Measured.Voltage,
			s.Measured.Current,
			readings,
		)
	}

	b.WriteString(" ON CONFLICT (seq) DO NOTHING")

	_, err := r.db.Exec(b.String(), args...)
	return err
}

var _ ports.SnapshotObserver = (*Recorder)(nil)
