package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

func TestFormExtractor_DetectsContactForm(t *testing.T) {
	t.Parallel()
	ex := NewFormExtractor()

	listing := contact.RawListing{
		ID:         "listing-7",
		SourceName: "kleinanzeigen",
		HTMLFragment: `<div><form action="/kontakt/senden">
			<input type="text" name="email" placeholder="Ihre E-Mail">
			<input type="text" name="telefon">
			<textarea name="nachricht"></textarea>
		</form></div>`,
	}
	cands := ex.Extract(context.Background(), listing)
	require.Len(t, cands, 1)
	require.Equal(t, contact.TypeForm, cands[0].Type)
	require.Equal(t, "/kontakt/senden", cands[0].NormalizedValue)
	require.InDelta(t, 0.4, cands[0].Confidence, 1e-9)
	require.Contains(t, cands[0].RawValue, "email")
	require.Contains(t, cands[0].RawValue, "telefon")
}

func TestFormExtractor_NoActionFallsBackToListing(t *testing.T) {
	t.Parallel()
	ex := NewFormExtractor()

	listing := contact.RawListing{
		ID:           "listing-8",
		SourceName:   "kleinanzeigen",
		HTMLFragment: `<form><label>Nachricht</label><textarea name="nachricht"></textarea></form>`,
	}
	cands := ex.Extract(context.Background(), listing)
	require.Len(t, cands, 1)
	require.Equal(t, "listing:listing-8", cands[0].NormalizedValue)
}

func TestFormExtractor_IgnoresUnrelatedForms(t *testing.T) {
	t.Parallel()
	ex := NewFormExtractor()

	listing := contact.RawListing{
		ID:           "listing-9",
		SourceName:   "kleinanzeigen",
		HTMLFragment: `<form action="/search"><input type="text" name="q"></form>`,
	}
	require.Empty(t, ex.Extract(context.Background(), listing))
}

func TestFormExtractor_NoHTML(t *testing.T) {
	t.Parallel()
	ex := NewFormExtractor()
	require.Empty(t, ex.Extract(context.Background(), contact.RawListing{ID: "x", BodyText: "kein HTML"}))
}
