package address

import "strings"

// Detail is the shipping address captured at checkout.
type Detail struct {
	ID     uint
	UserID uint

	RecipientName string
	Phone         string
	Email         string

	Address1 string
	Address2 string
	Barangay string
	City     string
	Province string
	Region   string
	Postcode string
	Country  string

	// Free-text address carried over from older orders.
	LegacyAddress *string
}

// HasStructuredFields reports whether the detail can be shipped without
// falling back to the legacy text.
func (d *Detail) HasStructuredFields() bool {
	return strings.TrimSpace(d.Address1) != "" && strings.TrimSpace(d.City) != ""
}

type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
	ConfidenceNone Confidence = "none"
)

// Parsed is the best-effort result of reading a free-text address. Fields
// the parser could not place are left empty.
type Parsed struct {
	Street     string
	Barangay   string
	City       string
	Province   string
	Postcode   string
	Country    string
	Confidence Confidence
}
