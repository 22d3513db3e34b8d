package usecase

import "ReportHarvester/internal/domain"

// Reconcile returns the records of candidate whose dedup key appears in none
// of the reference collections, in candidate order. Keys compare the
// security code and the calendar date in the exchange time zone only.
func Reconcile(candidate domain.Collection, reference ...domain.Collection) []domain.Announcement {
	known := make(map[domain.DedupKey]struct{})
	for _, ref := range reference {
		for key := range ref.Keys() {
			known[key] = struct{}{}
		}
	}

	fresh := make([]domain.Announcement, 0, len(candidate.Records))
	for _, rec := range candidate.Records {
		if _, ok := known[rec.Key()]; ok {
			continue
		}
		fresh = append(fresh, rec)
	}
	return fresh
}
