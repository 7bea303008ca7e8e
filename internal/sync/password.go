package sync

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/peteski22/dirsync/internal/config"
)

const (
	digitChars  = "0123456789"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	symbolChars = "!@#$%^&*"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	passwordChars = lowerChars + upperChars + digitChars + symbolChars

	minPasswordLength = 8
)

// GeneratePassword returns a temporary password of the given length drawn from letters, digits and
// a small symbol set. Missing lowercase, uppercase or digit characters are patched in at the end.
func GeneratePassword(length int) (config.Secret, error) {
	if length <= 0 {
		length = config.DefaultPasswordLength
	}
	length = max(length, minPasswordLength)

	pw := make([]byte, length)
	for i := range pw {
		c, err := randomChar(passwordChars)
		if err != nil {
			return "", err
		}
		pw[i] = c
	}

	for _, class := range []string{lowerChars, upperChars, digitChars} {
		if strings.ContainsAny(string(pw), class) {
			continue
		}
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		pw[replaceablePosition(pw)] = c
	}

	return config.Secret(pw), nil
}

// randomChar returns a uniformly chosen byte from chars.
func randomChar(chars string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
	if err != nil {
		return 0, fmt.Errorf("generating password: %w", err)
	}
	return chars[n.Int64()], nil
}

// replaceablePosition returns the last position whose character can be overwritten without
// removing the only member of a required class.
func replaceablePosition(pw []byte) int {
	for i := len(pw) - 1; i >= 0; i-- {
		class := classOf(pw[i])
		if class == symbolChars || countClass(pw, class) > 1 {
			return i
		}
	}
	return len(pw) - 1
}

// classOf returns the character class containing c.
func classOf(c byte) string {
	switch {
	case strings.IndexByte(lowerChars, c) >= 0:
		return lowerChars
	case strings.IndexByte(upperChars, c) >= 0:
		return upperChars
	case strings.IndexByte(digitChars, c) >= 0:
		return digitChars
	default:
		return symbolChars
	}
}

// countClass counts the characters of pw belonging to class.
func countClass(pw []byte, class string) int {
	n := 0
	for _, c := range pw {
		if strings.IndexByte(class, c) >= 0 {
			n++
		}
	}
	return n
}
