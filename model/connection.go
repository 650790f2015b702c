package model

import "strings"

// ConnectionType names the medium of a connection. The set is open; Csma
// and Ppp are the types the simulator ships with.
type ConnectionType string

const (
	ConnectionCsma ConnectionType = "Csma"
	ConnectionPpp  ConnectionType = "Ppp"
)

// Connection links device interfaces. Interfaces are "node/device"
// references; two entries form a point-to-point edge, more than two a
// shared medium.
type Connection struct {
	Name       string
	Type       ConnectionType
	Interfaces []string
	Attributes Attributes
}

// NewConnection returns the connection a connection list adds by default.
func NewConnection() Connection {
	return Connection{
		Name:       "new-connection",
		Type:       "",
		Interfaces: []string{},
		Attributes: Attributes{},
	}
}

// Clone returns a deep copy of c.
func (c Connection) Clone() Connection {
	out := c
	if c.Interfaces != nil {
		out.Interfaces = append(make([]string, 0, len(c.Interfaces)), c.Interfaces...)
	}
	out.Attributes = c.Attributes.Clone()
	return out
}

// CloneConnections deep-copies a connection list; nil stays nil.
func CloneConnections(conns []Connection) []Connection {
	if conns == nil {
		return nil
	}
	out := make([]Connection, len(conns))
	for i, c := range conns {
		out[i] = c.Clone()
	}
	return out
}

// InterfaceRef is a parsed "node/device" reference.
type InterfaceRef struct {
	Node   string
	Device string
}

func (r InterfaceRef) String() string {
	return r.Node + "/" + r.Device
}

// ParseInterfaceRef splits a "node/device" reference at its first slash.
// ok is false when either part is empty or the separator is missing.
func ParseInterfaceRef(ref string) (InterfaceRef, bool) {
	node, device, found := strings.Cut(ref, "/")
	if !found || strings.TrimSpace(node) == "" || strings.TrimSpace(device) == "" {
		return InterfaceRef{Node: node}, false
	}
	return InterfaceRef{Node: node, Device: device}, true
}
