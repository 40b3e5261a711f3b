package datanorm

import (
	"strings"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

// Normalization is deliberately lenient: identifiers with an unexpected digit
// count are passed through as bare digits instead of being rejected, so dirty
// purchased data never blocks an import. Every function is idempotent.

// NormalizeSSN formats nine digits as XXX-XX-XXXX. Zero digits yields "" (absent);
// any other count yields the bare digit string.
func NormalizeSSN(raw string) string {
	d := digitsOnly(raw)
	if len(d) == 9 {
		return d[:3] + "-" + d[3:5] + "-" + d[5:]
	}
	return d
}

// NormalizeEIN formats nine digits as XX-XXXXXXX, otherwise like NormalizeSSN.
func NormalizeEIN(raw string) string {
	d := digitsOnly(raw)
	if len(d) == 9 {
		return d[:2] + "-" + d[2:]
	}
	return d
}

// NormalizeEmail trims and lowercases. Blank input yields "" (absent).
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePhone strips formatting and a leading US country code.
func NormalizePhone(raw string) string {
	d := digitsOnly(raw)
	if len(d) == 11 && d[0] == '1' {
		return d[1:]
	}
	return d
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeFields returns a normalized copy of f. Columns without a rule are
// only trimmed. The input is not modified.
func NormalizeFields(f domain.Fields) domain.Fields {
	out := domain.NewFields()
	for _, c := range domain.Columns {
		if !f.Has(c) {
			continue
		}
		out.Set(c, normalizeValue(c, f.Get(c)))
	}
	return out
}

func normalizeValue(c domain.Column, v string) string {
	switch c {
	case domain.ColSSN:
		return NormalizeSSN(v)
	case domain.ColEIN:
		return NormalizeEIN(v)
	}
	for _, ec := range domain.EmailColumns {
		if c == ec {
			return NormalizeEmail(v)
		}
	}
	for _, pc := range domain.PhoneColumns {
		if c == pc {
			return NormalizePhone(v)
		}
	}
	return strings.TrimSpace(v)
}
