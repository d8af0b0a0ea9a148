package protocol

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLength   = 50
	MaxVoteLength   = 10
	MaxRoomIDLength = 32
)

var (
	ErrInvalidName = errors.New("invalid name")
	ErrInvalidVote = errors.New("invalid vote")
)

// NormalizeName trims the display name and checks its length. Names are
// not required to be unique.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name too long (max %d characters)", ErrInvalidName, MaxNameLength)
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return "", fmt.Errorf("%w: name contains control characters", ErrInvalidName)
		}
	}
	return name, nil
}

// NormalizeRoomID upper-cases and trims a client supplied room code, cut
// to MaxRoomIDLength characters.
func NormalizeRoomID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if utf8.RuneCountInString(id) > MaxRoomIDLength {
		return string([]rune(id)[:MaxRoomIDLength])
	}
	return id
}

// Deck is the set of card values a vote must come from. An empty deck
// accepts any non-empty value.
type Deck []string

func (d Deck) Validate(value string) error {
	if value == "" {
		return fmt.Errorf("%w: vote cannot be empty", ErrInvalidVote)
	}
	if len(d) == 0 {
		if utf8.RuneCountInString(value) > MaxVoteLength {
			return fmt.Errorf("%w: vote too long (max %d characters)", ErrInvalidVote, MaxVoteLength)
		}
		return nil
	}
	if !slices.Contains(d, value) {
		return fmt.Errorf("%w: %q is not in the deck", ErrInvalidVote, value)
	}
	return nil
}
