package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the download milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageStart    Stage = "DOWNLOAD_START"
	StageProgress Stage = "DOWNLOAD_PROGRESS"
	StageDone     Stage = "DOWNLOAD_DONE"
	StageError    Stage = "DOWNLOAD_ERROR"
)

// Event is a single milestone of one proxied download.
type Event struct {
	// DownloadID identifies the download using the 16-byte UUID form.
	DownloadID [16]byte
	TS         time.Time
	Stage      Stage
	// Host is the upstream media host.
	Host string
	// Bytes is the cumulative number of bytes streamed so far.
	Bytes int64
	// Total is the advertised size, or -1 when the upstream did not report one.
	Total int64
	// Percent is the 5% step reached by a progress event.
	Percent int
	Dur     time.Duration
	// Note carries the error code for failed downloads.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.DownloadID == [16]byte{} {
		return errors.New("download id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageStart, StageDone, StageError:
	case StageProgress:
		if e.Total <= 0 {
			return errors.New("progress requires a known total")
		}
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Bytes < 0 || e.Dur < 0 {
		return errors.New("bytes and duration must be >= 0")
	}
	return nil
}

// Terminal reports whether no further events follow for the download.
func (e Event) Terminal() bool {
	return e.Stage == StageDone || e.Stage == StageError
}

// ID returns the download id as a uuid.UUID.
func (e Event) ID() uuid.UUID {
	return uuid.UUID(e.DownloadID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
