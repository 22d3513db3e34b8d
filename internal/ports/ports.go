package ports

import (
	"context"

	"ReportHarvester/internal/domain"
)

// SnapshotStore persists the harvested collection of each source so a later
// download-only run can resume without re-querying upstream.
type SnapshotStore interface {
	Save(ctx context.Context, c domain.Collection) error
	Load(ctx context.Context, source domain.SourceID) (domain.Collection, error)
}

// TabularExporter writes a collection as a human-readable table.
type TabularExporter interface {
	Export(ctx context.Context, c domain.Collection) error
}

// Downloader ensures the document behind an announcement is present on disk.
type Downloader interface {
	Ensure(ctx context.Context, rec domain.Announcement) (domain.DownloadStatus, error)
}

// Pacer spaces out consecutive upstream calls.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Progress receives per-document download outcomes.
type Progress interface {
	Start(total int)
	Step(label string, status domain.DownloadStatus)
	Finish()
}
