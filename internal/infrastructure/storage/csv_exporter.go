package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/ports"
)

var csvHeader = []string{
	"AnnouncementTitle", "AnnouncementDate", "SecCode", "SecName", "FileLink", "Source",
}

// CSVExporter writes one <source>_announcements.csv table per source.
type CSVExporter struct {
	dir string
}

var _ ports.TabularExporter = (*CSVExporter)(nil)

// NewCSVExporter writes tables into dir.
func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{dir: dir}
}

// Path returns the table location of a source.
func (e *CSVExporter) Path(id domain.SourceID) string {
	return filepath.Join(e.dir, string(id)+"_announcements.csv")
}

// Export replaces the source's table with the collection, one row per record.
func (e *CSVExporter) Export(ctx context.Context, c domain.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create csv directory: %w", err)
	}

	path := e.Path(c.Source)
	tmp, err := os.CreateTemp(e.dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create csv temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range c.Records {
		row := []string{
			rec.Title,
			rec.Date.Format(domain.DateLayout),
			rec.SecCode,
			rec.SecName,
			rec.FileLink,
			string(rec.Source),
		}
		if err := w.Write(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename csv into %s: %w", path, err)
	}
	return nil
}
