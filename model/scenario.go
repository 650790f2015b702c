package model

import (
	"fmt"
	"strings"
)

// Precision is the simulator's time resolution.
type Precision int

const (
	PrecisionNS Precision = iota
	PrecisionMS
	PrecisionS
	PrecisionH
)

var precisionNames = [...]string{"NS", "MS", "S", "H"}

// Valid reports whether p is one of the known labels.
func (p Precision) Valid() bool {
	return p >= PrecisionNS && p <= PrecisionH
}

// String returns the upper-case symbolic label used on the wire.
func (p Precision) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Precision(%d)", int(p))
	}
	return precisionNames[p]
}

// Precisions lists every known precision in declaration order.
func Precisions() []Precision {
	return []Precision{PrecisionNS, PrecisionMS, PrecisionS, PrecisionH}
}

// ParsePrecision maps a label such as "ms" or "MS" onto a Precision.
func ParsePrecision(s string) (Precision, error) {
	label := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range precisionNames {
		if name == label {
			return Precision(i), nil
		}
	}
	return 0, invalid(SectionParameters, "parameters.precision", "unknown precision %q", s)
}

// Parameters holds the scenario-wide simulation settings.
type Parameters struct {
	Name string
	// Duration is an opaque duration literal understood by the simulator,
	// e.g. "5s".
	Duration       string
	PopulateTables bool
	Precision      Precision
}

// Scenario is the root of a simulation description.
type Scenario struct {
	Parameters  Parameters
	Nodes       []Node
	Connections []Connection
	Registers   []Register
}

// DefaultScenario is the value a freshly started editor holds.
func DefaultScenario() Scenario {
	return Scenario{
		Parameters: Parameters{
			Name:           "default",
			Duration:       "5s",
			PopulateTables: false,
			Precision:      PrecisionNS,
		},
		Nodes:       []Node{},
		Connections: []Connection{},
		Registers:   []Register{},
	}
}

// Clone returns a deep copy of s.
func (s Scenario) Clone() Scenario {
	return Scenario{
		Parameters:  s.Parameters,
		Nodes:       CloneNodes(s.Nodes),
		Connections: CloneConnections(s.Connections),
		Registers:   CloneRegisters(s.Registers),
	}
}

// Counts summarises the number of entities in s.
type Counts struct {
	Nodes       int
	Devices     int
	Connections int
	Registers   int
}

// Counts returns entity totals, mainly for metrics and log lines.
func (s Scenario) Counts() Counts {
	c := Counts{
		Nodes:       len(s.Nodes),
		Connections: len(s.Connections),
		Registers:   len(s.Registers),
	}
	for _, n := range s.Nodes {
		c.Devices += len(n.Devices)
	}
	return c
}

// DanglingInterfaces returns the connection interface references that do
// not name an existing node/device pair, in connection order.
func (s Scenario) DanglingInterfaces() []string {
	nodes := make(map[string]Node, len(s.Nodes))
	for _, n := range s.Nodes {
		nodes[n.Name] = n
	}
	var out []string
	for _, c := range s.Connections {
		for _, ref := range c.Interfaces {
			r, ok := ParseInterfaceRef(ref)
			if ok {
				if n, found := nodes[r.Node]; found {
					if _, ok = n.Device(r.Device); ok {
						continue
					}
				}
			}
			out = append(out, ref)
		}
	}
	return out
}
