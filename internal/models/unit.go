package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownUnit is returned for units other than C and F.
var ErrUnknownUnit = errors.New("unknown unit")

// Unit is the temperature unit preference.
type Unit string

const (
	UnitCelsius    Unit = "C"
	UnitFahrenheit Unit = "F"
)

// ParseUnit accepts "C"/"F" (any case, optional whitespace).
func ParseUnit(s string) (Unit, error) {
	switch Unit(strings.ToUpper(strings.TrimSpace(s))) {
	case UnitCelsius:
		return UnitCelsius, nil
	case UnitFahrenheit:
		return UnitFahrenheit, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownUnit, s)
}

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	return u == UnitCelsius || u == UnitFahrenheit
}
