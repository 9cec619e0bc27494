package domain

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"
)

// Identity is what the identity provider knows about the caller.
type Identity struct {
	UID         string
	DisplayName string
}

// AuthSession is the credential a session is started with.
type AuthSession struct {
	Token string
}

// User is the profile stored under users/{uid}.
type User struct {
	UID      string `validate:"required,excludes=/"`
	Username string `validate:"required"`
}

func (u User) Validate() error {
	return validateStruct(u)
}

// NormalizeUsername turns a provider display name into a username:
// whitespace is removed and an empty result falls back to "user<0..999>".
func NormalizeUsername(displayName string) string {
	username := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, displayName)
	if username == "" {
		return fmt.Sprintf("user%d", rand.IntN(1000))
	}
	return username
}

// ValidateUID checks uid is usable as a document key.
func ValidateUID(uid string) error {
	return validateVar(uid, "required,excludes=/", "uid")
}
