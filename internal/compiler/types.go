package compiler

import (
	"regexp"
	"strings"

	"github.com/roach88/concord/internal/crdt"
)

// typePattern matches "Name" or "Name<Elem>" with an optional nested
// element, e.g. "i64", "Set<string>", "List<Map<string>>".
var typePattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)(<(.+)>)?$`)

// baseType returns the outer type name of t, or "" if t is malformed.
func baseType(t string) string {
	m := typePattern.FindStringSubmatch(strings.TrimSpace(t))
	if m == nil {
		return ""
	}
	return m[1]
}

func isIntegerType(t string) bool {
	switch t {
	case "i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64", "int", "Int":
		return true
	}
	return false
}

func isFloatType(t string) bool {
	switch t {
	case "f32", "f64", "float", "float32", "float64", "Float", "number", "double":
		return true
	}
	return false
}

// containsFloat reports whether t or any of its element types is a float.
func containsFloat(t string) bool {
	for {
		m := typePattern.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			return false
		}
		if isFloatType(m[1]) {
			return true
		}
		if m[3] == "" {
			return false
		}
		t = m[3]
	}
}

// CompatibleStrategies returns the strategies a declared type may use.
// Custom (unknown) types may only use register strategies. The result is
// nil for malformed types.
func CompatibleStrategies(t string) []crdt.Strategy {
	base := baseType(t)
	switch {
	case base == "":
		return nil
	case base == "string" || base == "String":
		return []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.Peritext, crdt.MVRegister}
	case isIntegerType(base):
		return []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.PNCounter, crdt.MVRegister}
	case base == "Set":
		return []crdt.Strategy{crdt.Immutable, crdt.ORSet, crdt.MVRegister}
	case base == "Vec" || base == "List":
		return []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.RGA, crdt.MVRegister}
	}
	// bool, Map and custom types.
	return []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.MVRegister}
}
