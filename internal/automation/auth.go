package automation

import (
	"crypto/subtle"
	"strings"
)

// Authorizer decides whether a requester may change engine state.
type Authorizer interface {
	IsAdmin(requesterID string) bool
}

// AdminSet is the configured list of administrator identities.
type AdminSet struct {
	ids [][]byte
}

// NewAdminSet builds an AdminSet, ignoring blank entries.
func NewAdminSet(ids []string) AdminSet {
	s := AdminSet{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			s.ids = append(s.ids, []byte(id))
		}
	}
	return s
}

// IsAdmin compares requesterID against every configured id in constant time.
// An empty requester never matches.
func (s AdminSet) IsAdmin(requesterID string) bool {
	if requesterID == "" {
		return false
	}
	req := []byte(requesterID)
	match := 0
	for _, id := range s.ids {
		match |= subtle.ConstantTimeCompare(req, id)
	}
	return match == 1
}

// Len returns the number of configured admins.
func (s AdminSet) Len() int { return len(s.ids) }
