package datanorm

import (
	"sort"
	"strings"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

// columnAliases maps each canonical column to the extra header spellings
// seen in purchased lists. The canonical name itself always matches.
var columnAliases = map[domain.Column][]string{
	domain.ColFirstName:         {"first", "fname", "firstname", "owner first name"},
	domain.ColLastName:          {"last", "lname", "lastname", "surname", "owner last name"},
	domain.ColBusinessName:      {"company", "company name", "business", "legal name", "legal business name", "merchant name"},
	domain.ColDBA:               {"doing business as", "dba name", "trade name"},
	domain.ColAddress:           {"street", "street address", "address 1", "address1", "business address"},
	domain.ColCity:              {"town"},
	domain.ColState:             {"st", "province", "state code"},
	domain.ColZip:               {"zip code", "zipcode", "postal code", "postal", "postcode"},
	domain.ColPhone1:            {"phone", "phone number", "business phone", "work phone", "telephone"},
	domain.ColPhone2:            {"alt phone", "alternate phone", "secondary phone", "home phone"},
	domain.ColMobilePhone:       {"mobile", "cell", "cell phone", "mobile number"},
	domain.ColSSN:               {"social", "social security", "social security number", "ssn number"},
	domain.ColEIN:               {"tax id", "federal tax id", "fein", "tin", "ein number"},
	domain.ColDateOfBirth:       {"dob", "birthdate", "birth date"},
	domain.ColIndustry:          {"sic description", "business type", "vertical"},
	domain.ColBusinessStartDate: {"start date", "business start", "inception date", "date established"},
	domain.ColEmail1:            {"email", "email address", "e-mail", "primary email"},
	domain.ColEmail2:            {"secondary email", "alt email"},
}

// headerIndex is built once from columnAliases: squashed header -> column.
var headerIndex = buildHeaderIndex()

func buildHeaderIndex() map[string]domain.Column {
	idx := make(map[string]domain.Column, len(domain.Columns)*3)
	for _, c := range domain.Columns {
		idx[squashHeader(string(c))] = c
	}
	for c, aliases := range columnAliases {
		for _, a := range aliases {
			key := squashHeader(a)
			if _, taken := idx[key]; !taken {
				idx[key] = c
			}
		}
	}
	return idx
}

// squashHeader lowercases and drops quotes, spaces, underscores and hyphens,
// so "Email_1", "email 1" and "EMAIL1" compare equal.
func squashHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Trim(h, "\"'")
	var b strings.Builder
	for _, r := range h {
		switch r {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ResolveHeader returns the canonical column for a raw CSV header.
func ResolveHeader(header string) (domain.Column, bool) {
	c, ok := headerIndex[squashHeader(header)]
	return c, ok
}

// HeaderMap is the resolved mapping for one CSV header row.
type HeaderMap struct {
	Headers  []string
	Unmapped []string
	index    map[int]domain.Column
}

// MapHeaders resolves every header once. Unrecognized headers are kept in
// Unmapped for reporting and otherwise ignored.
func MapHeaders(header []string) *HeaderMap {
	m := &HeaderMap{
		Headers: header,
		index:   make(map[int]domain.Column, len(header)),
	}
	for i, h := range header {
		if c, ok := ResolveHeader(h); ok {
			m.index[i] = c
		} else if strings.TrimSpace(h) != "" {
			m.Unmapped = append(m.Unmapped, h)
		}
	}
	return m
}

// Mapped returns how many header cells resolved to a canonical column.
func (m *HeaderMap) Mapped() int { return len(m.index) }

// Record builds a uniformly shaped Fields from one data row. When two source
// columns resolve to the same canonical column the leftmost non-empty value wins.
func (m *HeaderMap) Record(row []string) domain.Fields {
	f := domain.NewFields()
	for i, val := range row {
		c, ok := m.index[i]
		if !ok || f.Has(c) {
			continue
		}
		f.Set(c, strings.TrimSpace(val))
	}
	return f
}

// MapRow maps an arbitrary header->value map onto the canonical vocabulary.
// Keys are visited in sorted order so collisions resolve deterministically.
func MapRow(raw map[string]string) domain.Fields {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := domain.NewFields()
	for _, k := range keys {
		c, ok := ResolveHeader(k)
		if !ok || f.Has(c) {
			continue
		}
		f.Set(c, strings.TrimSpace(raw[k]))
	}
	return f
}
