// Package domain contains core concepts of the chat system.
// This file defines Member entities and the rules of a room member set.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"github.com/samber/lo"
)

// Member is one participant entry of a room member set.
// Two members are the same entry when both UID and DisplayName match.
type Member struct {
	UID         string `validate:"required,excludes=/"`
	DisplayName string `validate:"required"`
}

func NewMember(uid, displayName string) Member {
	return Member{UID: uid, DisplayName: displayName}
}

func (m Member) Validate() error {
	return validateStruct(m)
}

func (m Member) Equal(other Member) bool {
	return m.UID == other.UID && m.DisplayName == other.DisplayName
}

// ContainsMember reports whether members holds an entry equal to m.
func ContainsMember(members []Member, m Member) bool {
	return lo.ContainsBy(members, m.Equal)
}

// StaleEntries returns the entries sharing m's UID under another display name.
// They are left behind when a participant is renamed between two joins.
func StaleEntries(members []Member, m Member) []Member {
	return lo.Filter(members, func(item Member, _ int) bool {
		return item.UID == m.UID && item.DisplayName != m.DisplayName
	})
}

// UniqueMembers drops repeated (uid, display name) entries, keeping the first occurrence.
func UniqueMembers(members []Member) []Member {
	return lo.UniqBy(members, func(item Member) Member { return item })
}
