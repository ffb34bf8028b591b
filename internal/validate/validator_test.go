package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
)

func defaultValidationConfig() config.ValidationConfig {
	return config.ValidationConfig{CountryCode: "49"}
}

func emailCandidate(value string) contact.Candidate {
	return contact.Candidate{
		ListingID:       "l1",
		SourceName:      "immowelt",
		Extractor:       contact.ExtractorEmail,
		Type:            contact.TypeEmail,
		RawValue:        value,
		NormalizedValue: value,
		Confidence:      0.9,
	}
}

func phoneCandidate(value string) contact.Candidate {
	return contact.Candidate{
		ListingID:       "l1",
		SourceName:      "immowelt",
		Extractor:       contact.ExtractorPhone,
		Type:            contact.TypePhone,
		RawValue:        value,
		NormalizedValue: value,
		Confidence:      0.85,
	}
}

func TestValidate_ValidEmail(t *testing.T) {
	t.Parallel()
	v := New(defaultValidationConfig(), nil)

	res := v.Validate(context.Background(), emailCandidate("max@example.com"))
	require.True(t, res.StructurallyValid)
	require.Zero(t, res.Penalty)
}

func TestValidate_MalformedEmail(t *testing.T) {
	t.Parallel()
	v := New(defaultValidationConfig(), nil)

	for _, value := range []string{"max@example", "max@@example.com", "@example.com", "max@exa..mple.com"} {
		res := v.Validate(context.Background(), emailCandidate(value))
		require.False(t, res.StructurallyValid, "value %q should fail", value)
		require.InDelta(t, 0.9, res.Penalty, 1e-9, "penalty zeroes the candidate")
		require.NotEmpty(t, res.Notes)
	}
}

func TestValidate_ValidPhone(t *testing.T) {
	t.Parallel()
	v := New(defaultValidationConfig(), nil)

	res := v.Validate(context.Background(), phoneCandidate("+49891234567"))
	require.True(t, res.StructurallyValid)
}

func TestValidate_RepeatedDigitPhone(t *testing.T) {
	t.Parallel()
	v := New(defaultValidationConfig(), nil)

	res := v.Validate(context.Background(), phoneCandidate("+49000000000"))
	require.False(t, res.StructurallyValid)
	require.Contains(t, res.Notes, "repeated-digit")
}

func TestValidate_PhoneShape(t *testing.T) {
	t.Parallel()
	v := New(defaultValidationConfig(), nil)

	for _, value := range []string{"49891234567", "+49", "+4989123456789012345"} {
		res := v.Validate(context.Background(), phoneCandidate(value))
		require.False(t, res.StructurallyValid, "value %q should fail", value)
	}
}

type fakeChecker struct {
	reachable map[string]bool
	calls     int
}

func (c *fakeChecker) Reachable(_ context.Context, domain string) bool {
	c.calls++
	return c.reachable[domain]
}

func TestValidate_DomainReachabilityHook(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{reachable: map[string]bool{"example.com": true}}
	cfg := defaultValidationConfig()
	cfg.CheckDomainReachability = true
	v := New(cfg, checker)

	res := v.Validate(context.Background(), emailCandidate("max@example.com"))
	require.True(t, res.StructurallyValid)

	res = v.Validate(context.Background(), emailCandidate("max@unreachable.example"))
	require.False(t, res.StructurallyValid)
	require.Equal(t, 2, checker.calls)
}

func TestValidate_HookDisabledByDefault(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{}
	v := New(defaultValidationConfig(), checker)

	res := v.Validate(context.Background(), emailCandidate("max@example.com"))
	require.True(t, res.StructurallyValid)
	require.Zero(t, checker.calls)
}

func TestValidate_FormCandidate(t *testing.T) {
	t.Parallel()
	v := New(defaultValidationConfig(), nil)

	res := v.Validate(context.Background(), contact.Candidate{
		Type:            contact.TypeForm,
		NormalizedValue: "/kontakt",
		Confidence:      0.4,
	})
	require.True(t, res.StructurallyValid)

	res = v.Validate(context.Background(), contact.Candidate{Type: contact.TypeForm, Confidence: 0.4})
	require.False(t, res.StructurallyValid)
}
