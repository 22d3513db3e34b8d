package domain

import (
	"errors"
	"time"
)

// ErrInvalidRecord marks an upstream entry that cannot become an Announcement.
var ErrInvalidRecord = errors.New("invalid announcement record")

// SourceID identifies one upstream disclosure-query system.
type SourceID string

const (
	// SourceCNInfo is the primary disclosure registry (cninfo.com.cn).
	SourceCNInfo SourceID = "cninfo"
	// SourceSSE is the Shanghai exchange bulletin query.
	SourceSSE SourceID = "sse"
	// SourceSZSE is the Shenzhen exchange announcement list.
	SourceSZSE SourceID = "szse"
)

// Valid reports whether id is one of the known sources.
func (id SourceID) Valid() bool {
	switch id {
	case SourceCNInfo, SourceSSE, SourceSZSE:
		return true
	}
	return false
}

// Announcement is a core entity describing one disclosure document.
type Announcement struct {
	Title    string
	Date     time.Time
	SecCode  string
	SecName  string
	FileLink string
	Source   SourceID
}

// Key returns the cross-source identity of the announcement.
func (a Announcement) Key() DedupKey {
	return KeyOf(a.SecCode, a.Date)
}

// DedupKey identifies the same disclosure across sources. Title and source are
// deliberately left out: sources word the same report differently.
type DedupKey struct {
	SecCode string
	Date    string
}

// KeyOf builds a DedupKey, discarding any time-of-day component of t.
func KeyOf(secCode string, t time.Time) DedupKey {
	return DedupKey{SecCode: secCode, Date: DateOf(t).Format(DateLayout)}
}

// Batch holds the announcements harvested for one source and one date range.
type Batch struct {
	Source  SourceID
	Range   DateRange
	Records []Announcement
}

// Collection is every announcement harvested for one source during a run.
// Values are treated as immutable; Append returns a new Collection.
type Collection struct {
	Source  SourceID
	Records []Announcement
}

// NewCollection builds a collection owning a copy of records.
func NewCollection(source SourceID, records []Announcement) Collection {
	return Collection{Source: source, Records: append([]Announcement(nil), records...)}
}

// Append returns a collection extended with the batch records.
func (c Collection) Append(b Batch) Collection {
	records := make([]Announcement, 0, len(c.Records)+len(b.Records))
	records = append(records, c.Records...)
	records = append(records, b.Records...)
	return Collection{Source: c.Source, Records: records}
}

// Len returns the number of records.
func (c Collection) Len() int {
	return len(c.Records)
}

// Keys returns the set of dedup keys present in the collection.
func (c Collection) Keys() map[DedupKey]struct{} {
	keys := make(map[DedupKey]struct{}, len(c.Records))
	for _, rec := range c.Records {
		keys[rec.Key()] = struct{}{}
	}
	return keys
}

// DownloadStatus enumerates the outcomes of ensuring a document is on disk.
type DownloadStatus string

const (
	StatusSkipped    DownloadStatus = "skipped"
	StatusDownloaded DownloadStatus = "downloaded"
	StatusFailed     DownloadStatus = "failed"
)
