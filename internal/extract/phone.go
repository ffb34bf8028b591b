package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// Base confidences depending on how explicit the country code is.
const (
	confPhoneCountryCode = 0.85
	confPhoneNational    = 0.7
	confPhoneBare        = 0.5
)

// Normalized phone numbers outside this digit range are discarded as
// not phone-shaped.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// defaultCountryCode is prepended to national numbers. German listings are
// the primary corpus; the validator re-checks the prefix against config.
const defaultCountryCode = "49"

var phoneRe = regexp.MustCompile(`(?:\+|00)?\d[\d\s\-/().]{4,}\d`)

// PhoneExtractor finds German national and international phone number shapes.
type PhoneExtractor struct {
	countryCode string
}

// NewPhoneExtractor constructs a PhoneExtractor with the default country code.
func NewPhoneExtractor() *PhoneExtractor {
	return &PhoneExtractor{countryCode: defaultCountryCode}
}

// Kind implements Extractor.
func (p *PhoneExtractor) Kind() contact.ExtractorKind {
	return contact.ExtractorPhone
}

// Extract scans bodyText for phone-shaped digit runs and normalizes them to
// digits with an explicit leading country code, e.g. "+49891234567".
func (p *PhoneExtractor) Extract(_ context.Context, listing contact.RawListing) []contact.Candidate {
	text := listing.BodyText
	if strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []contact.Candidate
	for _, raw := range phoneRe.FindAllString(text, -1) {
		normalized, confidence, ok := p.normalize(raw)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, contact.Candidate{
			ListingID:       listing.ID,
			SourceName:      listing.SourceName,
			Extractor:       contact.ExtractorPhone,
			Type:            contact.TypePhone,
			RawValue:        strings.TrimSpace(raw),
			NormalizedValue: normalized,
			Confidence:      confidence,
		})
	}
	return out
}

// normalize strips formatting and resolves the country code prefix. It
// reports ok=false for digit runs that are not phone-shaped by length.
func (p *PhoneExtractor) normalize(raw string) (string, float64, bool) {
	hasPlus := strings.HasPrefix(strings.TrimSpace(raw), "+")
	digits := keepDigits(raw)

	var national string
	confidence := confPhoneBare
	switch {
	case hasPlus:
		national = digits
		confidence = confPhoneCountryCode
	case strings.HasPrefix(digits, "00"):
		national = digits[2:]
		confidence = confPhoneCountryCode
	case strings.HasPrefix(digits, "0"):
		national = p.countryCode + digits[1:]
		confidence = confPhoneNational
	default:
		national = p.countryCode + digits
	}

	if len(national) < minPhoneDigits || len(national) > maxPhoneDigits {
		return "", 0, false
	}
	return "+" + national, confidence, true
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
