package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// InitialsPlaceholder is shown for users without a display name.
const InitialsPlaceholder = "?"

// User is a denormalized account snapshot.
type User struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
	CreatedAt   *time.Time
}

// Initials returns the upper-cased first character of the display name.
func (u User) Initials() string {
	name := strings.TrimSpace(u.DisplayName)
	if name == "" {
		return InitialsPlaceholder
	}
	r, _ := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return InitialsPlaceholder
	}
	// A Caser is stateful, so one is built per call.
	return cases.Upper(language.Und).String(string(r))
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	out := u
	out.CreatedAt = cloneTime(u.CreatedAt)
	return out
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	v := u.Clone()
	return &v
}
