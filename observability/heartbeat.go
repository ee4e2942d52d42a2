package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

var processStart = time.Now()

// RuntimeMetrics is a snapshot of the Go runtime.
type RuntimeMetrics struct {
	Goroutines    int
	HeapAllocMB   float64
	SysMB         float64
	NumGC         uint32
	UptimeSeconds int64
}

// CollectRuntimeMetrics reads the current runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(m.HeapAlloc) / 1024 / 1024,
		SysMB:         float64(m.Sys) / 1024 / 1024,
		NumGC:         m.NumGC,
		UptimeSeconds: int64(time.Since(processStart).Seconds()),
	}
}

// HeartbeatWriter periodically records that a daemon is alive.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	pid        int
	interval   time.Duration
	logger     *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewHeartbeatWriter creates a writer for workerName. interval <= 0 means 15s.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, logger *slog.Logger) *HeartbeatWriter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   host,
		pid:        os.Getpid(),
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start writes a heartbeat immediately and then every interval until ctx is
// done or Stop is called.
func (h *HeartbeatWriter) Start(ctx context.Context) {
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			if err := h.WriteHeartbeat(ctx); err != nil && ctx.Err() == nil {
				h.logger.Warn("observability: heartbeat", "worker", h.workerName, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// WriteHeartbeat inserts one heartbeat row.
func (h *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	_, err := h.db.ExecContext(ctx, `INSERT INTO worker_heartbeats
		(worker_name, timestamp, hostname, pid, goroutines, heap_alloc_mb, sys_mb, num_gc, uptime_seconds)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		h.workerName, time.Now().Unix(), h.hostname, h.pid,
		m.Goroutines, m.HeapAllocMB, m.SysMB, m.NumGC, m.UptimeSeconds)
	if err != nil {
		return fmt.Errorf("observability: write heartbeat: %w", err)
	}
	return nil
}

// Stop halts the writer started by Start and waits for it.
func (h *HeartbeatWriter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.done
	})
}
