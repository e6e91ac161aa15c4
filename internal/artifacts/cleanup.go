package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/robfig/cron/v3"

	"photostudio/internal/domain"
	"photostudio/pkg/zip"
)

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	Count      int   `json:"count"`
	BytesFreed int64 `json:"bytesFreed"`
}

// Cleanup purges every soft-deleted artifact and its file. A row whose file
// cannot be removed is kept for the next pass.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	deleted, err := s.store.ListDeleted(ctx)
	if err != nil {
		return report, fmt.Errorf("list deleted artifacts: %w", err)
	}
	for _, a := range deleted {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var size int64
		if s.files != nil && a.FilePath != "" {
			if n, err := s.files.Size(a.FilePath); err == nil {
				size = n
			}
			if err := s.files.Remove(ctx, a.FilePath); err != nil {
				s.logger.Error().Err(err).Str("artifact_id", a.ID).Str("path", a.FilePath).Msg("artifacts: cleanup remove failed")
				continue
			}
		}
		if err := s.store.Purge(ctx, a.ID); err != nil {
			return report, fmt.Errorf("purge artifact %s: %w", a.ID, err)
		}
		report.Count++
		report.BytesFreed += size
	}
	s.purged.Add(float64(report.Count))
	s.bytesFreed.Add(float64(report.BytesFreed))
	s.logger.Info().Int("count", report.Count).Int64("bytes_freed", report.BytesFreed).Msg("artifacts: cleanup finished")
	return report, nil
}

// ScheduleCleanup registers Cleanup on c with a cron spec.
func (s *Service) ScheduleCleanup(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := s.Cleanup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("artifacts: scheduled cleanup failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule artifact cleanup %q: %w", spec, err)
	}
	return id, nil
}

// Export writes a zip of the owner's live artifact files to w and returns
// how many files it contains. Unreadable files are skipped.
func (s *Service) Export(ctx context.Context, owner domain.Owner, w io.Writer) (int, error) {
	if s.files == nil {
		return 0, fmt.Errorf("export: no file store configured")
	}
	list, err := s.List(ctx, owner, false)
	if err != nil {
		return 0, err
	}
	entries := make([]zip.Entry, 0, len(list))
	for _, a := range list {
		data, err := s.files.Read(ctx, a.FilePath)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("artifact_id", a.ID).Msg("artifacts: export skipped unreadable file")
			continue
		}
		entries = append(entries, zip.Entry{
			Name:     exportName(a),
			Data:     data,
			Modified: a.CreatedAt,
		})
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("export %s: %w", owner.Key(), domain.ErrNotFound)
	}
	if err := zip.Write(w, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func exportName(a domain.Artifact) string {
	base := path.Base(strings.ReplaceAll(a.FilePath, "\\", "/"))
	run := a.RunID
	if run == "" {
		run = a.ID
	}
	return run + "/" + base
}
