package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// confFormMarker is the confidence ceiling for form detection: only the
// existence of a contact path is known, never its value.
const confFormMarker = 0.4

var formMarkerRe = regexp.MustCompile(`(?i)e[-_]?mail|telefon|phone|nachricht|message|kontakt|contact`)

// FormExtractor detects contact-form markers in the listing's HTML fragment.
// It never extracts a value from the form.
type FormExtractor struct{}

// NewFormExtractor constructs a FormExtractor.
func NewFormExtractor() *FormExtractor {
	return &FormExtractor{}
}

// Kind implements Extractor.
func (f *FormExtractor) Kind() contact.ExtractorKind {
	return contact.ExtractorForm
}

// Extract parses htmlFragment and emits one candidate per form whose fields
// carry contact markers ("email"/"telefon"/"nachricht" labels and kin).
func (f *FormExtractor) Extract(_ context.Context, listing contact.RawListing) []contact.Candidate {
	if strings.TrimSpace(listing.HTMLFragment) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listing.HTMLFragment))
	if err != nil {
		return nil
	}

	var out []contact.Candidate
	seen := make(map[string]struct{})
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		markers := collectMarkers(form)
		if len(markers) == 0 {
			return
		}
		normalized := formIdentity(form, listing)
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, contact.Candidate{
			ListingID:       listing.ID,
			SourceName:      listing.SourceName,
			Extractor:       contact.ExtractorForm,
			Type:            contact.TypeForm,
			RawValue:        strings.Join(markers, ","),
			NormalizedValue: normalized,
			Confidence:      confFormMarker,
		})
	})
	return out
}

// collectMarkers returns the sorted set of contact markers found on the
// form's fields and labels.
func collectMarkers(form *goquery.Selection) []string {
	set := make(map[string]struct{})
	form.Find("input, textarea, select").Each(func(_ int, field *goquery.Selection) {
		for _, attr := range []string{"name", "id", "placeholder", "type", "aria-label"} {
			if v, ok := field.Attr(attr); ok {
				if m := formMarkerRe.FindString(v); m != "" {
					set[strings.ToLower(m)] = struct{}{}
				}
			}
		}
	})
	form.Find("label").Each(func(_ int, label *goquery.Selection) {
		if m := formMarkerRe.FindString(label.Text()); m != "" {
			set[strings.ToLower(m)] = struct{}{}
		}
	})

	markers := make([]string, 0, len(set))
	for m := range set {
		markers = append(markers, m)
	}
	sort.Strings(markers)
	return markers
}

// formIdentity is the dedup value for a detected form: the action URL when
// present (source-independent), otherwise scoped to the listing.
func formIdentity(form *goquery.Selection, listing contact.RawListing) string {
	if action, ok := form.Attr("action"); ok {
		if trimmed := strings.TrimSpace(strings.ToLower(action)); trimmed != "" {
			return trimmed
		}
	}
	return "listing:" + listing.ID
}
