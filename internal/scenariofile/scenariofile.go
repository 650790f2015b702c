// Package scenariofile reads and writes scenarios in the YAML authoring
// format used by scenarioctl.
//
// Decoding is strict about field names but does not validate the result;
// scenario.Store does that when the scenario is loaded.
package scenariofile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/scenario-composer/model"
	"gopkg.in/yaml.v3"
)

type file struct {
	Name           *string      `yaml:"name,omitempty"`
	Duration       *string      `yaml:"duration,omitempty"`
	PopulateTables *bool        `yaml:"populate_tables,omitempty"`
	Precision      *string      `yaml:"precision,omitempty"`
	Nodes          []node       `yaml:"nodes"`
	Connections    []connection `yaml:"connections"`
	Tracers        []tracer     `yaml:"tracers"`
}

type attribute struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type ipv4Address struct {
	Address string `yaml:"address"`
	Netmask string `yaml:"netmask"`
}

type ipv6Address struct {
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix"`
}

type device struct {
	Name          string        `yaml:"name"`
	Type          string        `yaml:"type"`
	IPv4Addresses []ipv4Address `yaml:"ipv4_addresses,omitempty"`
	IPv6Addresses []ipv6Address `yaml:"ipv6_addresses,omitempty"`
	Attributes    []attribute   `yaml:"attributes,omitempty"`
}

type application struct {
	Name       string      `yaml:"name"`
	Type       string      `yaml:"type"`
	Attributes []attribute `yaml:"attributes,omitempty"`
}

type route struct {
	Network string  `yaml:"network"`
	Netmask *string `yaml:"netmask,omitempty"`
	Prefix  *string `yaml:"prefix,omitempty"`
	Dst     string  `yaml:"dst"`
	Metric  int     `yaml:"metric"`
}

type node struct {
	Name         string        `yaml:"name"`
	Devices      []device      `yaml:"devices,omitempty"`
	Applications []application `yaml:"applications,omitempty"`
	IPv4Routes   []route       `yaml:"ipv4_routes,omitempty"`
	IPv6Routes   []route       `yaml:"ipv6_routes,omitempty"`
}

type connection struct {
	Name       string      `yaml:"name"`
	Type       string      `yaml:"type"`
	Interfaces []string    `yaml:"interfaces"`
	Attributes []attribute `yaml:"attributes,omitempty"`
}

type tracer struct {
	ValueName string  `yaml:"value_name"`
	Type      string  `yaml:"type"`
	Source    string  `yaml:"source"`
	Start     string  `yaml:"start"`
	End       *string `yaml:"end,omitempty"`
	File      string  `yaml:"file"`
	Sink      *string `yaml:"sink,omitempty"`
}

// Decode reads one scenario document from r. Unknown fields are an error.
// Parameters missing from the document take their model.DefaultScenario
// values; an empty document decodes to the default scenario.
func Decode(r io.Reader) (model.Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return model.DefaultScenario(), nil
		}
		return model.Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	return f.toModel()
}

// Load reads the scenario stored at path.
func Load(path string) (model.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Scenario{}, err
	}
	sc, err := Decode(bytes.NewReader(data))
	if err != nil {
		return model.Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Encode writes sc to w in the authoring format.
func Encode(w io.Writer, sc model.Scenario) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(fromModel(sc)); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	return enc.Close()
}

// Save writes sc to path, replacing any existing file.
func Save(path string, sc model.Scenario) error {
	var buf bytes.Buffer
	if err := Encode(&buf, sc); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (f file) toModel() (model.Scenario, error) {
	sc := model.DefaultScenario()
	if f.Name != nil {
		sc.Parameters.Name = *f.Name
	}
	if f.Duration != nil {
		sc.Parameters.Duration = *f.Duration
	}
	if f.PopulateTables != nil {
		sc.Parameters.PopulateTables = *f.PopulateTables
	}
	if f.Precision != nil {
		p, err := model.ParsePrecision(*f.Precision)
		if err != nil {
			return model.Scenario{}, err
		}
		sc.Parameters.Precision = p
	}

	for i, n := range f.Nodes {
		mn, err := n.toModel(i)
		if err != nil {
			return model.Scenario{}, err
		}
		sc.Nodes = append(sc.Nodes, mn)
	}
	for _, c := range f.Connections {
		sc.Connections = append(sc.Connections, model.Connection{
			Name:       c.Name,
			Type:       model.ConnectionType(c.Type),
			Interfaces: append([]string{}, c.Interfaces...),
			Attributes: toAttributes(c.Attributes),
		})
	}
	for _, t := range f.Tracers {
		sc.Registers = append(sc.Registers, model.Register{
			ValueName: t.ValueName,
			Type:      t.Type,
			Source:    t.Source,
			Start:     t.Start,
			End:       t.End,
			File:      t.File,
			Sink:      t.Sink,
		})
	}
	return sc, nil
}

func (n node) toModel(index int) (model.Node, error) {
	out := model.NewNode()
	out.Name = n.Name
	for _, d := range n.Devices {
		md := model.Device{
			Name:          d.Name,
			Type:          d.Type,
			IPv4Addresses: []model.IPv4Address{},
			IPv6Addresses: []model.IPv6Address{},
			Attributes:    toAttributes(d.Attributes),
		}
		for _, a := range d.IPv4Addresses {
			md.IPv4Addresses = append(md.IPv4Addresses, model.IPv4Address{Address: a.Address, Netmask: a.Netmask})
		}
		for _, a := range d.IPv6Addresses {
			md.IPv6Addresses = append(md.IPv6Addresses, model.IPv6Address{Address: a.Address, Prefix: a.Prefix})
		}
		out.Devices = append(out.Devices, md)
	}
	for _, a := range n.Applications {
		out.Applications = append(out.Applications, model.Application{
			Name:       a.Name,
			Type:       a.Type,
			Attributes: toAttributes(a.Attributes),
		})
	}

	for j, r := range n.IPv4Routes {
		path := fmt.Sprintf("nodes[%d].ipv4_routes[%d]", index, j)
		mr, err := r.toModel(path)
		if err != nil {
			return model.Node{}, err
		}
		v4, ok := mr.(model.IPv4Route)
		if !ok {
			return model.Node{}, misplaced(path, "IPv6 route (prefix) listed under ipv4_routes")
		}
		out.IPv4Routes = append(out.IPv4Routes, v4)
	}
	for j, r := range n.IPv6Routes {
		path := fmt.Sprintf("nodes[%d].ipv6_routes[%d]", index, j)
		mr, err := r.toModel(path)
		if err != nil {
			return model.Node{}, err
		}
		v6, ok := mr.(model.IPv6Route)
		if !ok {
			return model.Node{}, misplaced(path, "IPv4 route (netmask) listed under ipv6_routes")
		}
		out.IPv6Routes = append(out.IPv6Routes, v6)
	}
	return out, nil
}

func (r route) toModel(path string) (model.Route, error) {
	mr, err := model.NewRoute(r.Network, r.Dst, r.Metric, r.Netmask, r.Prefix)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			verr.Section = model.SectionNodes
			verr.Path = path
		}
		return nil, err
	}
	return mr, nil
}

func misplaced(path, reason string) error {
	return &model.ValidationError{Section: model.SectionNodes, Path: path, Reason: reason}
}

func toAttributes(in []attribute) model.Attributes {
	out := make(model.Attributes, 0, len(in))
	for _, a := range in {
		out = append(out, model.Attribute{Key: a.Key, Value: a.Value})
	}
	return out
}

func fromAttributes(in model.Attributes) []attribute {
	if len(in) == 0 {
		return nil
	}
	out := make([]attribute, 0, len(in))
	for _, a := range in {
		out = append(out, attribute{Key: a.Key, Value: a.Value})
	}
	return out
}

func fromModel(sc model.Scenario) file {
	p := sc.Parameters
	precision := p.Precision.String()
	f := file{
		Name:           &p.Name,
		Duration:       &p.Duration,
		PopulateTables: &p.PopulateTables,
		Precision:      &precision,
		Nodes:          []node{},
		Connections:    []connection{},
		Tracers:        []tracer{},
	}

	for _, n := range sc.Nodes {
		fn := node{Name: n.Name}
		for _, d := range n.Devices {
			fd := device{Name: d.Name, Type: d.Type, Attributes: fromAttributes(d.Attributes)}
			for _, a := range d.IPv4Addresses {
				fd.IPv4Addresses = append(fd.IPv4Addresses, ipv4Address{Address: a.Address, Netmask: a.Netmask})
			}
			for _, a := range d.IPv6Addresses {
				fd.IPv6Addresses = append(fd.IPv6Addresses, ipv6Address{Address: a.Address, Prefix: a.Prefix})
			}
			fn.Devices = append(fn.Devices, fd)
		}
		for _, a := range n.Applications {
			fn.Applications = append(fn.Applications, application{Name: a.Name, Type: a.Type, Attributes: fromAttributes(a.Attributes)})
		}
		for _, r := range n.IPv4Routes {
			netmask := r.Netmask
			fn.IPv4Routes = append(fn.IPv4Routes, route{Network: r.Network, Netmask: &netmask, Dst: r.Dst, Metric: r.Metric})
		}
		for _, r := range n.IPv6Routes {
			prefix := r.Prefix
			fn.IPv6Routes = append(fn.IPv6Routes, route{Network: r.Network, Prefix: &prefix, Dst: r.Dst, Metric: r.Metric})
		}
		f.Nodes = append(f.Nodes, fn)
	}

	for _, c := range sc.Connections {
		f.Connections = append(f.Connections, connection{
			Name:       c.Name,
			Type:       string(c.Type),
			Interfaces: append([]string{}, c.Interfaces...),
			Attributes: fromAttributes(c.Attributes),
		})
	}
	for _, r := range sc.Registers {
		f.Tracers = append(f.Tracers, tracer{
			ValueName: r.ValueName,
			Type:      r.Type,
			Source:    r.Source,
			Start:     r.Start,
			End:       r.End,
			File:      r.File,
			Sink:      r.Sink,
		})
	}
	return f
}
