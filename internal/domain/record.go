package domain

import "strings"

// Column is a canonical merchant data column. The string value is the
// display name used in CSV headers and exports ("Email 1", "SSN", ...).
type Column string

const (
	ColFirstName         Column = "First Name"
	ColLastName          Column = "Last Name"
	ColBusinessName      Column = "Business Name"
	ColDBA               Column = "DBA"
	ColAddress           Column = "Address"
	ColCity              Column = "City"
	ColState             Column = "State"
	ColZip               Column = "Zip"
	ColPhone1            Column = "Phone 1"
	ColPhone2            Column = "Phone 2"
	ColMobilePhone       Column = "Mobile Phone"
	ColSSN               Column = "SSN"
	ColEIN               Column = "EIN"
	ColDateOfBirth       Column = "Date of Birth"
	ColIndustry          Column = "Industry"
	ColBusinessStartDate Column = "Business Start Date"
	ColEmail1            Column = "Email 1"
	ColEmail2            Column = "Email 2"
	ColEmail3            Column = "Email 3"
	ColEmail4            Column = "Email 4"
	ColEmail5            Column = "Email 5"
	ColEmail6            Column = "Email 6"
	ColEmail7            Column = "Email 7"
	ColEmail8            Column = "Email 8"
	ColEmail9            Column = "Email 9"
	ColEmail10           Column = "Email 10"
	ColEmail11           Column = "Email 11"
)

// EmailColumns lists the identity-bearing columns in match order. The order
// is significant: the first column whose value hits the identity index
// decides which canonical record a duplicate is attributed to.
var EmailColumns = []Column{
	ColEmail1, ColEmail2, ColEmail3, ColEmail4, ColEmail5, ColEmail6,
	ColEmail7, ColEmail8, ColEmail9, ColEmail10, ColEmail11,
}

// PhoneColumns lists the columns normalized as US phone numbers.
var PhoneColumns = []Column{ColPhone1, ColPhone2, ColMobilePhone}

// Columns is the closed canonical vocabulary in storage/export order.
var Columns = append([]Column{
	ColFirstName, ColLastName, ColBusinessName, ColDBA,
	ColAddress, ColCity, ColState, ColZip,
	ColPhone1, ColPhone2, ColMobilePhone,
	ColSSN, ColEIN, ColDateOfBirth, ColIndustry, ColBusinessStartDate,
}, EmailColumns...)

// DBName returns the snake_case storage column ("Email 1" -> "email_1").
func (c Column) DBName() string {
	return strings.ReplaceAll(strings.ToLower(string(c)), " ", "_")
}

// Fields holds one record's canonical values. Every canonical column is
// present as a key; a nil value means the field is absent. An empty string
// is never stored.
type Fields map[Column]*string

// NewFields returns a Fields with every canonical column set to absent.
func NewFields() Fields {
	f := make(Fields, len(Columns))
	for _, c := range Columns {
		f[c] = nil
	}
	return f
}

// Get returns the value of c, or "" when absent.
func (f Fields) Get(c Column) string {
	if v := f[c]; v != nil {
		return *v
	}
	return ""
}

// Has reports whether c carries a value.
func (f Fields) Has(c Column) bool {
	return f[c] != nil
}

// Set stores v for c. An empty v marks the field absent.
func (f Fields) Set(c Column, v string) {
	if v == "" {
		f[c] = nil
		return
	}
	f[c] = &v
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if v != nil {
			s := *v
			out[k] = &s
		} else {
			out[k] = nil
		}
	}
	return out
}

// Equal reports whether both records carry the same values.
func (f Fields) Equal(other Fields) bool {
	for _, c := range Columns {
		if f.Has(c) != other.Has(c) || f.Get(c) != other.Get(c) {
			return false
		}
	}
	return true
}

// Emails returns the present email values in EmailColumns order.
func (f Fields) Emails() []string {
	var out []string
	for _, c := range EmailColumns {
		if v := f[c]; v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// PendingRecord is a row in a pre-staging holding table awaiting
// normalization and deduplication. JobID is nil for orphan rows.
type PendingRecord struct {
	ID     string  `json:"id"`
	JobID  *string `json:"job_id,omitempty"`
	Fields Fields  `json:"fields"`
}

// StagingRecord is the canonical, deduplicated contact record.
type StagingRecord struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}
