// Package validation checks user input before it reaches the state store: location
// queries and favorite names, and decoded request bodies.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Location length bounds in runes.
const (
	LocationMinLength = 1
	LocationMaxLength = 100
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ErrInvalidRequest wraps request body validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space and , - . '
// The last two cover names like "St. John's" and coordinate queries like "48.85,2.35".
// Case is preserved; the cache key lowercases separately.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// Validator checks decoded request bodies against their validate tags and reports
// fields by their JSON names.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator with the "location" tag registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		_, err := ValidateLocation(fl.Field().String(), LocationMinLength, LocationMaxLength)
		return err == nil
	})
	return &Validator{v: v}
}

// Struct validates s. The error wraps ErrInvalidRequest and names the first
// failing field.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", ErrInvalidRequest, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
