package model

// Attribute is a single simulator attribute assignment.
type Attribute struct {
	Key   string
	Value string
}

// Attributes is an ordered attribute list. Keys may repeat and order is
// significant to the simulator.
type Attributes []Attribute

// Clone returns an independent copy; a nil list stays nil.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	copy(out, a)
	return out
}

// Get returns the value of the last attribute named key.
func (a Attributes) Get(key string) (string, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i].Key == key {
			return a[i].Value, true
		}
	}
	return "", false
}
