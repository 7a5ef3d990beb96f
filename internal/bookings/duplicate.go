package bookings

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// minPhoneDigits is the shortest normalized phone used for a substring match.
const minPhoneDigits = 6

// MatchBy names what a duplicate match was based on.
type MatchBy string

const (
	MatchByPhone MatchBy = "phone"
	MatchByName  MatchBy = "name"
)

// DuplicateClientConflict is the decision point returned when a Create finds
// an active booking for the same client. It is a result, not an error.
type DuplicateClientConflict struct {
	Existing *Booking
	MatchBy  MatchBy
}

// NormalizePhone strips whitespace, the Tunisian country prefix (+216 or
// 00216) and one leading trunk zero.
func NormalizePhone(raw string) string {
	p := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	switch {
	case strings.HasPrefix(p, "+216"):
		p = p[len("+216"):]
	case strings.HasPrefix(p, "00216"):
		p = p[len("00216"):]
	}
	return strings.TrimPrefix(p, "0")
}

// findDuplicate looks for an active booking by normalized phone, then by name.
func findDuplicate(ctx context.Context, st Store, phone, name string) (*DuplicateClientConflict, error) {
	if digits := NormalizePhone(phone); len(digits) >= minPhoneDigits {
		matches, err := st.FindActiveByPhone(ctx, digits)
		if err != nil {
			return nil, fmt.Errorf("bookings: duplicate by phone: %w", err)
		}
		if len(matches) > 0 {
			return &DuplicateClientConflict{Existing: matches[0], MatchBy: MatchByPhone}, nil
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	matches, err := st.FindActiveByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("bookings: duplicate by name: %w", err)
	}
	if len(matches) > 0 {
		return &DuplicateClientConflict{Existing: matches[0], MatchBy: MatchByName}, nil
	}
	return nil, nil
}
