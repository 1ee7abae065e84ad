package models

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle folds a display title into the form used for natural
// key matching: lowercase, accents stripped, whitespace collapsed.
func NormalizeTitle(title string) string {
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// NaturalKey combines a normalized title and year into the fallback
// identity for catalog items.
func NaturalKey(normalizedName string, year int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(normalizedName), year)
}

// EpisodeNaturalKey identifies an episode by its position under a series.
func EpisodeNaturalKey(seriesID string, season, episode int) string {
	return fmt.Sprintf("%s|%d|%d", seriesID, season, episode)
}
