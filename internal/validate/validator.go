// Package validate performs per-candidate structural checks.
package validate

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
)

// DomainChecker is the optional external reachability hook for email domains.
// It is disabled by default; DNS lookups cost network round trips.
type DomainChecker interface {
	Reachable(ctx context.Context, domain string) bool
}

// Validator applies structural checks per contact type. A structural failure
// is a terminal classification, not an error: the candidate is rejected, not
// scored, not merged.
type Validator struct {
	cfg     config.ValidationConfig
	checker DomainChecker
}

var (
	emailSyntaxRe = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)+$`)
	phoneSyntaxRe = regexp.MustCompile(`^\+\d{7,15}$`)
)

// New constructs a Validator. checker may be nil; it is only consulted when
// the reachability toggle is on.
func New(cfg config.ValidationConfig, checker DomainChecker) *Validator {
	return &Validator{cfg: cfg, checker: checker}
}

// Validate checks one candidate. On structural failure the penalty equals the
// extractor confidence, zeroing the candidate's contribution.
func (v *Validator) Validate(ctx context.Context, cand contact.Candidate) contact.ValidationResult {
	var note string
	switch cand.Type {
	case contact.TypeEmail:
		note = v.checkEmail(ctx, cand.NormalizedValue)
	case contact.TypePhone:
		note = v.checkPhone(cand.NormalizedValue)
	case contact.TypeForm:
		if strings.TrimSpace(cand.NormalizedValue) == "" {
			note = "form candidate without identity"
		}
	default:
		note = fmt.Sprintf("unknown contact type %q", cand.Type)
	}

	if note != "" {
		return contact.ValidationResult{
			StructurallyValid: false,
			Penalty:           cand.Confidence,
			Notes:             note,
		}
	}
	return contact.ValidationResult{StructurallyValid: true}
}

func (v *Validator) checkEmail(ctx context.Context, value string) string {
	if !emailSyntaxRe.MatchString(value) {
		return "email fails syntax check"
	}
	domain := value[strings.LastIndex(value, "@")+1:]
	if !strings.Contains(domain, ".") || strings.Contains(domain, "..") {
		return "email domain is malformed"
	}
	if v.cfg.CheckDomainReachability && v.checker != nil {
		if !v.checker.Reachable(ctx, domain) {
			return "email domain is unreachable"
		}
	}
	return ""
}

func (v *Validator) checkPhone(value string) string {
	if !phoneSyntaxRe.MatchString(value) {
		return "phone fails shape check"
	}
	digits := value[1:]
	cc := v.cfg.CountryCode
	if cc != "" && !strings.HasPrefix(digits, cc) {
		// Foreign prefixes stay valid; only digit runs that cannot be a
		// country code at all are rejected.
		if strings.HasPrefix(digits, "0") {
			return "phone has no plausible country code"
		}
	}
	if allSameDigit(nationalPart(digits, cc)) {
		return "phone is a repeated-digit sequence"
	}
	return ""
}

func nationalPart(digits, cc string) string {
	if cc != "" && strings.HasPrefix(digits, cc) && len(digits) > len(cc) {
		return digits[len(cc):]
	}
	return digits
}

func allSameDigit(digits string) bool {
	if digits == "" {
		return true
	}
	first := digits[0]
	for i := 1; i < len(digits); i++ {
		if digits[i] != first {
			return false
		}
	}
	return true
}

// DNSChecker resolves domains via the default resolver. It backs the
// reachability hook when enabled in configuration.
type DNSChecker struct{}

// Reachable reports whether the domain has at least one A/AAAA or MX record.
func (DNSChecker) Reachable(ctx context.Context, domain string) bool {
	resolver := net.DefaultResolver
	if addrs, err := resolver.LookupHost(ctx, domain); err == nil && len(addrs) > 0 {
		return true
	}
	if mx, err := resolver.LookupMX(ctx, domain); err == nil && len(mx) > 0 {
		return true
	}
	return false
}
