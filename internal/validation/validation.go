package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrZipCodeEmpty is returned when the ZIP code is empty or whitespace-only after trim.
var ErrZipCodeEmpty = errors.New("ZIP code is required")

// ErrZipCodeInvalid is returned when the ZIP code is not exactly five ASCII digits.
var ErrZipCodeInvalid = errors.New("invalid ZIP code format")

// zipCodeTag accepts exactly five characters from [0-9].
const zipCodeTag = "len=5,number"

var validate = validator.New()

// ValidateZipCode trims the input and checks it against the US ZIP code rule.
// Returns the trimmed code or an error suitable for 400 INVALID_ZIP_CODE responses.
func ValidateZipCode(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrZipCodeEmpty
	}
	if err := validate.Var(s, zipCodeTag); err != nil {
		return "", ErrZipCodeInvalid
	}
	return s, nil
}

// IsZipCode reports whether s, untrimmed, is exactly five ASCII digits.
func IsZipCode(s string) bool {
	if s == "" {
		return false
	}
	return validate.Var(s, zipCodeTag) == nil
}
