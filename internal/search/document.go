// Package search provides full-text search over scans using Bleve.
// Barcodes are indexed both as analyzed text, so QR payloads match on
// words, and as an exact keyword, so numeric codes match by prefix.
package search

import (
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

// ScanDocument is the indexed form of a scan.
type ScanDocument struct {
	ID      string `json:"id"`
	Barcode string `json:"barcode"`
	User    string `json:"user,omitempty"`
	Date    int64  `json:"date"` // Unix millis
}

// ScanToDocument converts a scan to its index document.
func ScanToDocument(s *domain.Scan) *ScanDocument {
	return &ScanDocument{
		ID:      s.ID,
		Barcode: s.Barcode,
		User:    s.User,
		Date:    s.Date.UnixMilli(),
	}
}

// ToMap converts the document to a map whose keys match the index mapping.
// barcode is indexed twice: analyzed and as an exact keyword.
func (d *ScanDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":            d.ID,
		"barcode":       d.Barcode,
		"barcode_exact": d.Barcode,
		"date":          d.Date,
	}
	if d.User != "" {
		m["user"] = d.User
	}
	return m
}

// Time returns the scan date.
func (d *ScanDocument) Time() time.Time {
	return time.UnixMilli(d.Date).UTC()
}
