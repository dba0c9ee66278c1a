package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/Ashwin-z/savereelify.com/internal/clock/system"
	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/progress"
)

// DefaultRetention bounds how long finished downloads stay queryable.
const DefaultRetention = 10 * time.Minute

// Snapshot is the latest known state of one download.
type Snapshot struct {
	ID        string         `json:"id"`
	Stage     progress.Stage `json:"stage"`
	Host      string         `json:"host,omitempty"`
	Bytes     int64          `json:"bytes"`
	Total     int64          `json:"total"`
	Percent   int            `json:"percent"`
	Done      bool           `json:"done"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Tracker keeps the most recent Snapshot per download id. Finished downloads
// are pruned once they are older than the retention window.
type Tracker struct {
	mu        sync.RWMutex
	downloads map[[16]byte]*Snapshot
	retention time.Duration
	clock     media.Clock
}

// NewTracker builds a Tracker. A non-positive retention uses DefaultRetention.
func NewTracker(retention time.Duration, clock media.Clock) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = system.New()
	}
	return &Tracker{
		downloads: make(map[[16]byte]*Snapshot),
		retention: retention,
		clock:     clock,
	}
}

// Consume folds batch into the per-download snapshots.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		snap, ok := t.downloads[evt.DownloadID]
		// A start always opens a fresh snapshot so a reused id tracks the new
		// download instead of the finished one.
		if !ok || evt.Stage == progress.StageStart {
			snap = &Snapshot{ID: evt.ID().String(), StartedAt: evt.TS, Total: -1}
			t.downloads[evt.DownloadID] = snap
		}
		if snap.Done {
			continue
		}
		snap.Stage = evt.Stage
		snap.UpdatedAt = evt.TS
		if evt.Host != "" {
			snap.Host = evt.Host
		}
		if evt.Bytes > snap.Bytes {
			snap.Bytes = evt.Bytes
		}
		if evt.Total != 0 {
			snap.Total = evt.Total
		}
		switch evt.Stage {
		case progress.StageProgress:
			snap.Percent = max(snap.Percent, evt.Percent)
		case progress.StageDone:
			snap.Done = true
			snap.Percent = 100
		case progress.StageError:
			snap.Done = true
			snap.Error = evt.Note
		}
	}
	t.pruneLocked(t.clock.Now())
	return nil
}

// Get returns the snapshot for id.
func (t *Tracker) Get(id [16]byte) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.downloads[id]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Len reports the number of tracked downloads.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.downloads)
}

// Close implements progress.Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}

func (t *Tracker) pruneLocked(now time.Time) {
	for id, snap := range t.downloads {
		if snap.Done && now.Sub(snap.UpdatedAt) > t.retention {
			delete(t.downloads, id)
		}
	}
}
