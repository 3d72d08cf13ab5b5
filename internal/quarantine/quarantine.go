// Package quarantine records page units whose fetch never produced a usable
// render, so the crawl can move on without losing track of the gap.
package quarantine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

// MarkerWriter persists a quarantine marker. artifact.Store satisfies it.
type MarkerWriter interface {
	WriteQuarantine(unit listing.PageUnit) (string, error)
}

// Quarantine writes markers for failed units.
type Quarantine struct {
	writer MarkerWriter
	logger *zap.Logger
}

// New wires a marker writer.
func New(writer MarkerWriter, logger *zap.Logger) (*Quarantine, error) {
	if writer == nil {
		return nil, fmt.Errorf("marker writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Quarantine{writer: writer, logger: logger}, nil
}

// Quarantine writes unit's marker, replacing any page artifact for it. cause
// is logged alongside the marker path.
func (q *Quarantine) Quarantine(unit listing.PageUnit, cause error) (string, error) {
	path, err := q.writer.WriteQuarantine(unit)
	if err != nil {
		return "", fmt.Errorf("quarantine %s: %w", unit, err)
	}
	q.logger.Warn("page quarantined",
		zap.String("locality", unit.Locality),
		zap.Int("page", unit.Page),
		zap.String("day", unit.Day),
		zap.String("path", path),
		zap.NamedError("cause", cause),
	)
	return path, nil
}
