package extract

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// Base confidences per match variant. Literal matches are trusted most;
// each obfuscation step loses signal.
const (
	confEmailLiteral  = 0.9
	confEmailEntity   = 0.75
	confEmailBracket  = 0.65
	confEmailSpaced   = 0.6
	confEmailReversed = 0.6
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// "[at]", "(at)", "{at}" style obfuscation, optionally padded.
	bracketAtRe  = regexp.MustCompile(`(?i)\s*[\[({]\s*at\s*[\])}]\s*`)
	bracketDotRe = regexp.MustCompile(`(?i)\s*[\[({]\s*dot\s*[\])}]\s*`)

	// plain " at " / " dot " word obfuscation.
	spacedAtRe  = regexp.MustCompile(`(?i)\s+at\s+`)
	spacedDotRe = regexp.MustCompile(`(?i)\s+dot\s+`)
)

// EmailExtractor finds literal and obfuscated email addresses in listing text.
type EmailExtractor struct{}

// NewEmailExtractor constructs an EmailExtractor.
func NewEmailExtractor() *EmailExtractor {
	return &EmailExtractor{}
}

// Kind implements Extractor.
func (e *EmailExtractor) Kind() contact.ExtractorKind {
	return contact.ExtractorEmail
}

// Extract scans bodyText and htmlFragment for email addresses. Each listed
// obfuscation variant is tried against the text; a value found by an earlier
// (higher-confidence) pass is not downgraded by a later one.
func (e *EmailExtractor) Extract(_ context.Context, listing contact.RawListing) []contact.Candidate {
	text := listing.BodyText
	if listing.HTMLFragment != "" {
		text += "\n" + listing.HTMLFragment
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []contact.Candidate

	passes := []struct {
		text       string
		confidence float64
	}{
		{text, confEmailLiteral},
		{html.UnescapeString(text), confEmailEntity},
		{deobfuscateBrackets(text), confEmailBracket},
		{deobfuscateSpaced(text), confEmailSpaced},
		{reverseString(text), confEmailReversed},
	}

	for _, pass := range passes {
		for _, raw := range emailRe.FindAllString(pass.text, -1) {
			normalized := strings.ToLower(strings.Trim(raw, "."))
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			out = append(out, contact.Candidate{
				ListingID:       listing.ID,
				SourceName:      listing.SourceName,
				Extractor:       contact.ExtractorEmail,
				Type:            contact.TypeEmail,
				RawValue:        raw,
				NormalizedValue: normalized,
				Confidence:      pass.confidence,
			})
		}
	}
	return out
}

func deobfuscateBrackets(text string) string {
	text = bracketAtRe.ReplaceAllString(text, "@")
	return bracketDotRe.ReplaceAllString(text, ".")
}

func deobfuscateSpaced(text string) string {
	text = spacedAtRe.ReplaceAllString(text, "@")
	return spacedDotRe.ReplaceAllString(text, ".")
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
