package gateway

import (
	"fmt"
	"strings"

	"github.com/jmcvetta/randutil"
)

const (
	RoomCodeLength = 6

	// base-36 digits, upper-cased after drawing
	roomCodeCharset = randutil.Numerals + "abcdefghijklmnopqrstuvwxyz"
)

// CodeGenerator draws a candidate room code.
type CodeGenerator func() (string, error)

// NewRoomCode returns a random 6 character upper-case alphanumeric code.
func NewRoomCode() (string, error) {
	code, err := randutil.String(RoomCodeLength, roomCodeCharset)
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	return strings.ToUpper(code), nil
}
