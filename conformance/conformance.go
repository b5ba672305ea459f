// Package conformance decides whether a discovered type implements a
// capability contract.
//
// A match is all-or-nothing: every method of the contract must be present
// with its exact signature, and the type must be concrete. Whether it can
// actually be constructed is only learned at Create time. A type that fails
// the check is simply not a match; it is never an error.
package conformance

import (
	"reflect"

	"github.com/joncooperworks/capscan/contract"
	"github.com/joncooperworks/capscan/probe"
	"github.com/joncooperworks/capscan/resident"
)

// Matches reports whether an inspected on-disk type implements c under abi.
func Matches(abi contract.ABI, t probe.TypeShape, c contract.Shape) bool {
	if !t.Instantiable() {
		return false
	}
	for _, m := range c.Methods() {
		got, ok := t.Method(m.Name)
		if !ok || got.Signature != m.Signature(abi) {
			return false
		}
	}
	return true
}

// MatchesResident reports whether a resident type implements c's Go interface.
func MatchesResident(t resident.Type, c contract.Shape) bool {
	if t.GoType == nil {
		return false
	}
	if t.GoType.Kind() == reflect.Interface {
		return false
	}
	return t.GoType.Implements(c.Interface())
}
