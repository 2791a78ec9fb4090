// Package normalize cleans user supplied text before it is stored.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxBarcodeLength caps stored barcodes, in runes.
const MaxBarcodeLength = 4096

// Barcode returns raw in NFC form with control characters removed and
// surrounding whitespace trimmed. Scanners often append CR/LF or a trailing
// NUL; those never reach the store.
func Barcode(raw string) string {
	s := strings.TrimSpace(sanitizeString(norm.NFC.String(raw)))
	if r := []rune(s); len(r) > MaxBarcodeLength {
		s = string(r[:MaxBarcodeLength])
	}
	return s
}

// User returns a trimmed NFC user name. Case is preserved; "Alice" and
// "alice" are different users.
func User(raw string) string {
	return strings.TrimSpace(sanitizeString(norm.NFC.String(raw)))
}

// ScanID lowercases and trims an id taken from a request.
func ScanID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ScanIDs normalizes every id and drops empties and duplicates,
// keeping first-seen order.
func ScanIDs(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		id := ScanID(r)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Users normalizes user names the same way, dropping empties and duplicates.
func Users(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		u := User(r)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// sanitizeString drops control characters (NUL, CR, LF, tabs, escape
// sequences). Spaces inside the value are kept.
func sanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
}
