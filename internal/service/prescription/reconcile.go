package prescription

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jwalitptl/prescription-api/internal/model"
)

// artifactPattern matches names produced by filenameFor. Other files in the
// output directory are left alone.
var artifactPattern = regexp.MustCompile(`^prescription_([A-Za-z0-9-]+)_(\d{14})\.pdf$`)

type ReconcileReport struct {
	OrphansRemoved []string `json:"orphans_removed"`
	MarkedFailed   []int64  `json:"marked_failed"`
	TempRemoved    int      `json:"temp_removed"`
}

func (r *ReconcileReport) Changed() bool {
	return len(r.OrphansRemoved) > 0 || len(r.MarkedFailed) > 0 || r.TempRemoved > 0
}

// recent reports whether the stamp in an artifact name is within the grace
// window, so its record may still be on the way. Stamps bumped past now
// count as recent.
func (s *Service) recent(name string) bool {
	m := artifactPattern.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	stamp, err := time.ParseInLocation(filenameStampLayout, m[2], s.loc)
	if err != nil {
		return false
	}
	return s.now().Sub(stamp) < s.grace
}

// Reconcile repairs the gap left when a process dies between writing an
// artifact and recording it. Artifacts without a record are deleted, records
// whose artifact is gone are marked Generation Failed, and temp files from
// interrupted writes are removed.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &ReconcileReport{}

	removed, err := s.store.RemoveTemp(ctx, s.grace)
	if err != nil {
		return nil, fmt.Errorf("failed to remove temp files: %w", err)
	}
	report.TempRemoved = removed

	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.records.List(dbCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list prescription records: %w", err)
	}
	names, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	recorded := make(map[string]bool, len(records))
	for _, r := range records {
		recorded[r.DocumentFilename] = true
	}
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}

	for _, name := range names {
		if recorded[name] || !artifactPattern.MatchString(name) || s.recent(name) {
			continue
		}
		if err := s.store.Remove(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to remove orphan artifact %s: %w", name, err)
		}
		report.OrphansRemoved = append(report.OrphansRemoved, name)
		s.logger.Warn().Str("filename", name).Msg("Removed orphan artifact")
	}

	for _, r := range records {
		if present[r.DocumentFilename] || r.Status == model.PrescriptionStatusGenerationFailed {
			continue
		}
		if err := s.records.UpdateStatus(dbCtx, r.ID, model.PrescriptionStatusGenerationFailed); err != nil {
			return nil, fmt.Errorf("failed to mark record %d: %w", r.ID, err)
		}
		report.MarkedFailed = append(report.MarkedFailed, r.ID)
		s.logger.Warn().Int64("record_id", r.ID).Str("filename", r.DocumentFilename).Msg("Marked record with missing artifact as failed")
	}

	s.metrics.ReconciledArtifacts.WithLabelValues("orphan_removed").Add(float64(len(report.OrphansRemoved)))
	s.metrics.ReconciledArtifacts.WithLabelValues("marked_failed").Add(float64(len(report.MarkedFailed)))
	s.metrics.ReconciledArtifacts.WithLabelValues("temp_removed").Add(float64(report.TempRemoved))

	return report, nil
}
