package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

// timestampLayout is ISO-8601 at second precision in UTC, e.g.
// 2024-07-12T14:54:36Z.
const timestampLayout = "2006-01-02T15:04:05Z07:00"

// Timestamp is a time that encodes as an ISO-8601 string.
type Timestamp struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timestampLayout))
}

// UnmarshalJSON accepts ISO-8601 with or without fractional seconds.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Record is a scan as it appears on the wire.
type Record struct {
	ID      string    `json:"id"`
	Barcode string    `json:"barcode"`
	User    string    `json:"user,omitempty"`
	Date    Timestamp `json:"date"`
}

// RecordFromScan converts a domain scan.
func RecordFromScan(s *domain.Scan) Record {
	return Record{
		ID:      strings.ToLower(s.ID),
		Barcode: s.Barcode,
		User:    s.User,
		Date:    Timestamp{s.Date},
	}
}

// RecordsFromScans converts and sorts scans newest first. The input slice is
// not modified.
func RecordsFromScans(scans []*domain.Scan) []Record {
	sorted := make([]*domain.Scan, 0, len(scans))
	for _, s := range scans {
		if s != nil {
			sorted = append(sorted, s)
		}
	}
	domain.SortNewestFirst(sorted)

	records := make([]Record, 0, len(sorted))
	for _, s := range sorted {
		records = append(records, RecordFromScan(s))
	}
	return records
}

// Scan converts the record back to a domain scan.
func (r Record) Scan() *domain.Scan {
	return &domain.Scan{
		ID:      r.ID,
		Barcode: r.Barcode,
		User:    r.User,
		Date:    r.Date.Time,
	}
}
