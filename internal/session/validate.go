package session

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/geodiary/mapcore/internal/model/core"
	"golang.org/x/text/unicode/norm"
)

// Field length limits, in runes after NFC normalization.
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
	MaxCategoryLen    = 50
)

// disallowed matches anything that is not a letter, number, punctuation or
// separator. Control characters, including newlines, are rejected.
var disallowed = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}]`)

// Normalize returns s in NFC form.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Validate checks a working copy before any network call. The returned
// error is a *core.ValidationError naming the first offending field.
func Validate(s core.EditSnapshot) error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"title", s.Title, MaxTitleLen},
		{"description", s.Description, MaxDescriptionLen},
		{"category", s.Category, MaxCategoryLen},
	}
	for _, f := range fields {
		v := Normalize(f.value)
		if disallowed.MatchString(v) {
			return &core.ValidationError{Field: f.name, Reason: "contains invalid characters"}
		}
		if n := utf8.RuneCountInString(v); n > f.max {
			return &core.ValidationError{Field: f.name, Reason: fmt.Sprintf("%d characters, at most %d allowed", n, f.max)}
		}
	}
	if n := len(s.ImageURLs) + len(s.Images); n > core.MaxImages {
		return &core.ValidationError{Field: "images", Reason: fmt.Sprintf("%d images, at most %d allowed", n, core.MaxImages)}
	}
	return nil
}
