// Package domain contains core concepts of the chat system.
// This file defines Room entities and the room code format.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// RoomCodeSpace is the number of distinct room codes.
const RoomCodeSpace = 1_000_000

// RoomID is the room code shared between participants.
type RoomID string

type Room struct {
	ID        RoomID
	Name      string
	CreatedBy string
	CreatedAt time.Time
	Members   []Member
}

// NewRoomID formats n as a 6-digit zero-padded room code.
// n is reduced into [0, RoomCodeSpace).
func NewRoomID(n int) RoomID {
	n %= RoomCodeSpace
	if n < 0 {
		n += RoomCodeSpace
	}
	return RoomID(fmt.Sprintf("%06d", n))
}

// RandomRoomID draws a room code uniformly from [0, RoomCodeSpace).
func RandomRoomID() RoomID {
	return NewRoomID(rand.IntN(RoomCodeSpace))
}

func (r RoomID) String() string {
	return string(r)
}

// Validate checks the room code is usable as a document key.
func (r RoomID) Validate() error {
	return validateVar(string(r), "required,excludes=/", "room id")
}

// ValidateCode checks r has the 6-digit format produced by NewRoomID.
func (r RoomID) ValidateCode() error {
	return validateVar(string(r), "required,len=6,numeric", "room code")
}

// HasMember reports whether m is present, compared on (uid, display name).
func (r Room) HasMember(m Member) bool {
	return ContainsMember(r.Members, m)
}
