// Package domain holds the core data types shared across the barcodedrop server.
package domain

import (
	"cmp"
	"slices"
	"time"
)

// Scan is a single scanned barcode.
// Scans are immutable once stored; the only mutation is deletion.
// User is empty for unassigned scans.
type Scan struct {
	ID      string    `json:"id"`
	Barcode string    `json:"barcode"`
	User    string    `json:"user,omitempty"`
	Date    time.Time `json:"date"`
}

// HasUser reports whether the scan is assigned to a user.
func (s *Scan) HasUser() bool {
	return s.User != ""
}

// Clone returns a copy of the scan.
func (s *Scan) Clone() *Scan {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// CompareNewestFirst orders scans by date descending, breaking ties by id
// descending so the order is total.
func CompareNewestFirst(a, b *Scan) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// SortNewestFirst sorts scans in place, newest first.
func SortNewestFirst(scans []*Scan) {
	slices.SortStableFunc(scans, CompareNewestFirst)
}

// GroupByUser buckets scans by owning user. Unassigned scans are skipped.
// The order inside each bucket is the order of the input.
func GroupByUser(scans []*Scan) map[string][]*Scan {
	groups := make(map[string][]*Scan)
	for _, s := range scans {
		if !s.HasUser() {
			continue
		}
		groups[s.User] = append(groups[s.User], s)
	}
	return groups
}
