package sso

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"license-sso/internal/freemius"
)

var errEmptyUsername = errors.New("empty username")

type UsernameChecker interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// baseUsername is "first.last" in lower case, or the local part of the email
// when the person has no name.
func baseUsername(person freemius.Person, fallbackEmail string) string {
	name := person.First
	if person.Last != "" {
		name += "." + person.Last
	}
	name = strings.ToLower(name)

	if name == "" {
		email := person.Email
		if email == "" {
			email = fallbackEmail
		}
		name = email
		if at := strings.Index(email, "@"); at >= 0 {
			name = email[:at]
		}
	}

	return name
}

// GenerateUniqueUsername returns base, or base followed by the smallest
// positive number, whichever is not taken yet.
func GenerateUniqueUsername(ctx context.Context, checker UsernameChecker, base string) (string, error) {
	base = sanitizeUsername(base)
	if base == "" {
		return "", errEmptyUsername
	}

	for suffix := 0; ; suffix++ {
		candidate := base
		if suffix > 0 {
			candidate = base + strconv.Itoa(suffix)
		}

		taken, err := checker.UsernameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
}

// sanitizeUsername folds accents and keeps only [a-z0-9 _.@-], collapsing
// runs of whitespace.
func sanitizeUsername(value string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '.', r == '@', r == '-', r == ' ':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
