package model

import (
	"fmt"
	"strings"
)

// Section names used in ValidationError.Section.
const (
	SectionParameters  = "parameters"
	SectionNodes       = "nodes"
	SectionConnections = "connections"
	SectionRegisters   = "registers"
)

// Validate checks every section of s and returns the first violation.
func (s Scenario) Validate() error {
	if err := ValidateParameters(s.Parameters); err != nil {
		return err
	}
	if err := ValidateNodes(s.Nodes); err != nil {
		return err
	}
	if err := ValidateConnections(s.Connections); err != nil {
		return err
	}
	return ValidateRegisters(s.Registers)
}

// ValidateParameters requires a name, a duration literal and a known
// precision.
func ValidateParameters(p Parameters) error {
	if blank(p.Name) {
		return invalid(SectionParameters, "parameters.name", "name is required")
	}
	if blank(p.Duration) {
		return invalid(SectionParameters, "parameters.duration", "duration is required")
	}
	if !p.Precision.Valid() {
		return invalid(SectionParameters, "parameters.precision", "unknown precision %d", int(p.Precision))
	}
	return nil
}

// ValidateNodes requires unique, non-empty node names and unique,
// non-empty device names within each node. Node names are the key that
// connection interface references resolve against.
func ValidateNodes(nodes []Node) error {
	seen := make(map[string]int, len(nodes))
	for i, n := range nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if blank(n.Name) {
			return invalid(SectionNodes, path+".name", "node name is required")
		}
		if prev, ok := seen[n.Name]; ok {
			return invalid(SectionNodes, path+".name", "duplicate node name %q (also nodes[%d])", n.Name, prev)
		}
		if strings.Contains(n.Name, "/") {
			return invalid(SectionNodes, path+".name", "node name %q must not contain '/'", n.Name)
		}
		seen[n.Name] = i

		devices := make(map[string]int, len(n.Devices))
		for j, d := range n.Devices {
			dpath := fmt.Sprintf("%s.devices[%d]", path, j)
			if blank(d.Name) {
				return invalid(SectionNodes, dpath+".name", "device name is required")
			}
			if strings.Contains(d.Name, "/") {
				return invalid(SectionNodes, dpath+".name", "device name %q must not contain '/'", d.Name)
			}
			if prev, ok := devices[d.Name]; ok {
				return invalid(SectionNodes, dpath+".name", "duplicate device name %q on node %q (also devices[%d])", d.Name, n.Name, prev)
			}
			devices[d.Name] = j
		}

		for j, a := range n.Applications {
			if blank(a.Name) {
				return invalid(SectionNodes, fmt.Sprintf("%s.applications[%d].name", path, j), "application name is required")
			}
		}
		for j, r := range n.Routes() {
			if err := validateRoute(r); err != nil {
				err.Section = SectionNodes
				err.Path = fmt.Sprintf("%s.routes[%d]", path, j)
				return err
			}
		}
	}
	return nil
}

// ValidateRoute checks a route value that arrived through the Route
// interface.
func ValidateRoute(r Route) error {
	if err := validateRoute(r); err != nil {
		return err
	}
	return nil
}

func validateRoute(r Route) *ValidationError {
	switch r.(type) {
	case IPv4Route, IPv6Route:
		return nil
	case nil:
		return invalid("", "route", "route is nil")
	default:
		return invalid("", "route", "unsupported route type %T", r)
	}
}

// ValidateConnections requires a name, a type and well-formed
// "node/device" interface references. References to nodes or devices that
// do not exist are allowed; see Scenario.DanglingInterfaces.
func ValidateConnections(conns []Connection) error {
	for i, c := range conns {
		path := fmt.Sprintf("connections[%d]", i)
		if blank(c.Name) {
			return invalid(SectionConnections, path+".name", "connection name is required")
		}
		if blank(string(c.Type)) {
			return invalid(SectionConnections, path+".type", "connection %q has no type", c.Name)
		}
		for j, ref := range c.Interfaces {
			if _, ok := ParseInterfaceRef(ref); !ok {
				return invalid(SectionConnections, fmt.Sprintf("%s.interfaces[%d]", path, j),
					"interface reference %q is not of the form node/device", ref)
			}
		}
	}
	return nil
}

// ValidateRegisters requires value_name, start and file, and rejects
// present-but-empty optional fields; an absent End or Sink is nil. Type and
// source may be left empty while a tracer is being drafted.
func ValidateRegisters(regs []Register) error {
	for i, r := range regs {
		path := fmt.Sprintf("registers[%d]", i)
		required := []struct {
			field string
			value string
		}{
			{"value_name", r.ValueName},
			{"start", r.Start},
			{"file", r.File},
		}
		for _, f := range required {
			if blank(f.value) {
				return invalid(SectionRegisters, path+"."+f.field, "%s is required", f.field)
			}
		}
		if r.End != nil && blank(*r.End) {
			return invalid(SectionRegisters, path+".end", "end must be omitted rather than empty")
		}
		if r.Sink != nil && blank(*r.Sink) {
			return invalid(SectionRegisters, path+".sink", "sink must be omitted rather than empty")
		}
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
