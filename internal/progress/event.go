package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event records.
type Stage string

// Crawl lifecycle stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageLocalityStart   Stage = "LOCALITY_START"
	StageLocalityDone    Stage = "LOCALITY_DONE"
	StageLocalityError   Stage = "LOCALITY_ERROR"
	StagePageDone        Stage = "PAGE_DONE"
	StagePageRetry       Stage = "PAGE_RETRY"
	StagePageQuarantined Stage = "PAGE_QUARANTINED"
	StageSessionRotated  Stage = "SESSION_ROTATED"
	StageNotice          Stage = "NOTICE"
	StageCollateDone     Stage = "COLLATE_DONE"
	StageRecordDefect    Stage = "RECORD_DEFECT"
)

// Event is one crawl milestone.
type Event struct {
	// RunID identifies the crawl run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Locality is required for every locality- and page-scoped stage.
	Locality string
	Page     int
	Attempt  int
	Cards    int
	Records  int
	// Complete reports whether a PAGE_DONE render held the expected card count.
	Complete bool
	Dur      time.Duration
	// Note carries operator-facing text; it is the message body for NOTICE.
	Note string
}

// Validate rejects events that sinks could not interpret.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageCollateDone:
	case StageLocalityStart, StageLocalityDone, StageLocalityError, StageSessionRotated:
		if e.Locality == "" {
			return fmt.Errorf("%s requires locality", e.Stage)
		}
	case StagePageDone, StagePageRetry, StagePageQuarantined, StageRecordDefect:
		if e.Locality == "" || e.Page <= 0 {
			return fmt.Errorf("%s requires locality and page", e.Stage)
		}
	case StageNotice:
		if e.Note == "" {
			return errors.New("notice requires a note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
