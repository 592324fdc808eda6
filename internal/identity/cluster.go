package identity

import (
	"strings"

	"channel-gateway/internal/domain"
)

// Reason records which rule matched a contact to its group's seed.
type Reason string

const (
	ReasonEmail Reason = "email"
	ReasonPhone Reason = "phone"
	ReasonName  Reason = "name"
)

// Match explains why two contacts are considered duplicates.
func Match(a, b domain.Contact) (Reason, bool) {
	if a.Email != nil && b.Email != nil && *a.Email != "" &&
		strings.EqualFold(*a.Email, *b.Email) {
		return ReasonEmail, true
	}
	if a.Phone != nil && b.Phone != nil && *a.Phone != "" && *a.Phone == *b.Phone {
		return ReasonPhone, true
	}
	if a.FirstName != "" && b.FirstName != "" &&
		Similarity(a.NameKey(), b.NameKey()) >= NameThreshold {
		return ReasonName, true
	}
	return "", false
}

// Member is one contact in a duplicate group with the rule that put it
// there. The seed's Reason is empty.
type Member struct {
	Contact domain.Contact
	Reason  Reason
}

// Group is a set of contacts believed to be one person. The first member
// is the seed: the oldest contact when the input is ordered by creation.
type Group []Member

// Cluster groups duplicates in one pass over contacts, which should be
// ordered by creation time. Every later contact is compared with each
// earlier seed only: a contact claimed by one group is never a seed or
// member of another, and members are not compared with each other.
func Cluster(contacts []domain.Contact) []Group {
	processed := make(map[int]bool, len(contacts))
	var groups []Group

	for i := range contacts {
		if processed[i] {
			continue
		}
		group := Group{{Contact: contacts[i]}}

		for j := i + 1; j < len(contacts); j++ {
			if processed[j] {
				continue
			}
			if reason, ok := Match(contacts[i], contacts[j]); ok {
				group = append(group, Member{Contact: contacts[j], Reason: reason})
				processed[j] = true
			}
		}

		if len(group) > 1 {
			groups = append(groups, group)
			processed[i] = true
		}
	}
	return groups
}
