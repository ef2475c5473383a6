package sweep

import "reflect"

// Kind is the container kind a value is swept as.
type Kind uint8

const (
	KindOpaque Kind = iota
	KindSequence
	KindSet
	KindMapping
	KindObject
	KindOptional
	KindUnion
	KindAggregate
)

var kindNames = [...]string{
	KindOpaque:    "opaque",
	KindSequence:  "sequence",
	KindSet:       "set",
	KindMapping:   "mapping",
	KindObject:    "object",
	KindOptional:  "optional",
	KindUnion:     "union",
	KindAggregate: "aggregate",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Classify reports how v is swept.
//
// Maps whose values take no space are sets and are swept by key; other maps
// are swept by value only. A nil pointer is an absent optional. An interface
// is a union whose active case is its dynamic value.
func Classify(v reflect.Value) Kind {
	if !v.IsValid() {
		return KindOpaque
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return KindSequence
	case reflect.Map:
		if v.Type().Elem().Size() == 0 {
			return KindSet
		}
		return KindMapping
	case reflect.Pointer:
		if v.IsNil() {
			return KindOptional
		}
		return KindObject
	case reflect.Interface:
		return KindUnion
	case reflect.Struct:
		return KindAggregate
	}
	return KindOpaque
}

// mayReference reports whether a value of t can lead to an object reference.
func mayReference(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	case reflect.Array:
		return t.Len() > 0 && mayReference(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if mayReference(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
