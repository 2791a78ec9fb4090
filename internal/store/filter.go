package store

import (
	"slices"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

// Filter selects scans. All set fields must match, except IDs and Users
// which combine with OR: a scan matches if its id is in IDs or its owner is
// in Users. User restricts to one owner, ExcludeIDs removes specific scans
// and Before keeps scans dated strictly before that instant. The zero
// Filter matches everything.
type Filter struct {
	User       string
	IDs        []string
	Users      []string
	ExcludeIDs []string
	Before     time.Time
}

// Matches reports whether s satisfies the filter.
func (f Filter) Matches(s *domain.Scan) bool {
	if s == nil {
		return false
	}
	if f.User != "" && s.User != f.User {
		return false
	}
	if len(f.IDs) > 0 || len(f.Users) > 0 {
		inIDs := slices.Contains(f.IDs, s.ID)
		inUsers := s.User != "" && slices.Contains(f.Users, s.User)
		if !inIDs && !inUsers {
			return false
		}
	}
	if slices.Contains(f.ExcludeIDs, s.ID) {
		return false
	}
	if !f.Before.IsZero() && !s.Date.Before(f.Before) {
		return false
	}
	return true
}

// ForUser returns a copy of the filter restricted to user.
func (f Filter) ForUser(user string) Filter {
	f.User = user
	return f
}

// ApplyFindOptions sorts newest first and applies the limit.
func ApplyFindOptions(scans []*domain.Scan, opts FindOptions) []*domain.Scan {
	domain.SortNewestFirst(scans)
	if opts.Limit > 0 && len(scans) > opts.Limit {
		scans = scans[:opts.Limit]
	}
	return scans
}
