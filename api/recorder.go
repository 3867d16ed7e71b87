package api

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ewen-r/to-do-list/domain"
)

// Recorder forwards change events to the activity queue from a bounded pool
// of workers. Recording is best-effort: when the buffer is saturated events
// are dropped with a warning rather than stalling the request.
type Recorder struct {
	sink    ChangeSink
	log     *log.Logger
	jobs    chan []domain.ChangeEvent
	timeout time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder starts the worker pool. Worker count, buffer size and sink
// timeout come from ACTIVITY_WORKERS, ACTIVITY_BUFFER and ACTIVITY_TIMEOUT.
func NewRecorder(sink ChangeSink, logger *log.Logger) *Recorder {
	if sink == nil {
		panic("api.NewRecorder: sink is nil")
	}
	if logger == nil {
		panic("api.NewRecorder: logger is nil")
	}
	r := &Recorder{
		sink:    sink,
		log:     logger,
		jobs:    make(chan []domain.ChangeEvent, envInt("ACTIVITY_BUFFER", 1024)),
		timeout: envDur("ACTIVITY_TIMEOUT", 30*time.Second),
	}
	workers := envInt("ACTIVITY_WORKERS", 4)
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	logger.Infof("activity recorder started, workers: %d, buffer: %d, timeout: %v", workers, cap(r.jobs), r.timeout)
	return r
}

// Record stamps the events and hands them to the pool. A nil Recorder drops
// everything, so callers need no "is recording enabled" checks.
func (r *Recorder) Record(events ...domain.ChangeEvent) {
	if r == nil || len(events) == 0 {
		return
	}
	for i := range events {
		events[i].ID = uuid.NewString()
		events[i].Timestamp = nextTimestamp()
	}
	select {
	case r.jobs <- events:
	default:
		r.log.Warnf("activity buffer saturated, dropping %d events", len(events))
	}
}

// Close stops the workers after draining buffered events.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.jobs)
		r.wg.Wait()
	})
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for events := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.sink.EnqueueChanges(ctx, events)
		cancel()
		if err != nil {
			r.log.Errorf("activity enqueue failed, err: %v, count: %d", err, len(events))
		}
	}
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDur(name string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
