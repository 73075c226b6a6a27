package validate

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "FR"

// PhoneStatus tells how a phone input was resolved.
type PhoneStatus int

const (
	// PhoneAbsent means the input was empty or the Skip marker.
	PhoneAbsent PhoneStatus = iota
	// PhoneNormalized means the number parsed, is valid, and Value is E.164.
	PhoneNormalized
	// PhonePassthrough means the number could not be validated; Value is the
	// trimmed original input and Warning says why.
	PhonePassthrough
)

func (s PhoneStatus) String() string {
	switch s {
	case PhoneAbsent:
		return "absent"
	case PhoneNormalized:
		return "normalized"
	case PhonePassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("PhoneStatus(%d)", int(s))
	}
}

// PhoneResult is the outcome of Phone. It never represents a failure.
type PhoneResult struct {
	Status  PhoneStatus
	Value   string
	Warning string
}

// Phone parses raw using region for numbers without a country prefix. Phone
// validity is advisory: numbers that cannot be parsed or are not valid are
// kept as typed with a warning.
func Phone(raw, region string) PhoneResult {
	if isSkipped(raw) {
		return PhoneResult{Status: PhoneAbsent}
	}
	input := strings.TrimSpace(raw)
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(input, strings.ToUpper(region))
	if err != nil {
		return PhoneResult{
			Status:  PhonePassthrough,
			Value:   input,
			Warning: fmt.Sprintf("unparseable phone number kept as typed: %v", err),
		}
	}
	if !phonenumbers.IsValidNumber(num) {
		return PhoneResult{
			Status:  PhonePassthrough,
			Value:   input,
			Warning: "invalid phone number kept as typed",
		}
	}
	return PhoneResult{
		Status: PhoneNormalized,
		Value:  phonenumbers.Format(num, phonenumbers.E164),
	}
}
