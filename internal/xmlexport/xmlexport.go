// Package xmlexport projects a scenario onto the XML document consumed by
// the simulation runner.
//
// The output is a single token stream with no indentation. Element and
// attribute order is fixed, empty collections keep their wrapper element,
// and every attribute value and text node is escaped. Each exported
// function produces exactly the bytes the full document contains for that
// entity.
package xmlexport

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/scenario-composer/model"
)

// Header is the XML declaration that starts every document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>`

// Document renders the complete document for s, declaration included. The
// result can be written to disk or used verbatim as a request body.
func Document(s model.Scenario) (string, error) {
	var w writer
	w.raw(Header)
	if err := w.model(s); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Model renders the <model> element without the XML declaration.
func Model(s model.Scenario) (string, error) {
	var w writer
	if err := w.model(s); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Precision renders the <precision> element.
func Precision(p model.Precision) (string, error) {
	var w writer
	if err := w.precision(p); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Node renders one <node> element.
func Node(n model.Node) (string, error) {
	var w writer
	if err := w.node("node", n); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Devices renders a <device-list> element.
func Devices(devices []model.Device) string {
	var w writer
	w.devices(devices)
	return w.String()
}

// Device renders one <device> element.
func Device(d model.Device) string {
	var w writer
	w.device(d)
	return w.String()
}

// Routing renders a <routing> element from routes in the given order.
func Routing(routes []model.Route) (string, error) {
	var w writer
	if err := w.routing("routing", routes); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Route renders one <route/> element. The mask attribute is netmask for
// IPv4 routes and prefix for IPv6 routes.
func Route(r model.Route) (string, error) {
	var w writer
	if err := w.route("route", r); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Applications renders an <applications> element.
func Applications(apps []model.Application) string {
	var w writer
	w.applications(apps)
	return w.String()
}

// Application renders one <application> element.
func Application(a model.Application) string {
	var w writer
	w.application(a)
	return w.String()
}

// Attributes renders an <attributes> element; it is emitted even when
// attrs is empty.
func Attributes(attrs model.Attributes) string {
	var w writer
	w.attributes(attrs)
	return w.String()
}

// Connections renders a <connections> element.
func Connections(conns []model.Connection) string {
	var w writer
	w.connections(conns)
	return w.String()
}

// Connection renders one <connection> element.
func Connection(c model.Connection) string {
	var w writer
	w.connection(c)
	return w.String()
}

// Registers renders the <statistics> element.
func Registers(regs []model.Register) string {
	var w writer
	w.registers(regs)
	return w.String()
}

// Register renders one <registrator/> element. End and Sink are emitted
// only when set.
func Register(r model.Register) string {
	var w writer
	w.register(r)
	return w.String()
}

type writer struct {
	strings.Builder
}

func (w *writer) raw(s string) {
	w.WriteString(s)
}

// text writes s escaped for use in an attribute value or text node.
func (w *writer) text(s string) {
	// strings.Builder never fails a write.
	_ = xml.EscapeText(&w.Builder, []byte(s))
}

func (w *writer) open(name string) {
	w.raw("<" + name)
}

func (w *writer) attr(name, value string) {
	w.raw(" " + name + `="`)
	w.text(value)
	w.raw(`"`)
}

func (w *writer) closeOpen() { w.raw(">") }
func (w *writer) selfClose() { w.raw("/>") }

func (w *writer) end(name string) {
	w.raw("</" + name + ">")
}

func (w *writer) element(name, text string) {
	w.raw("<" + name + ">")
	w.text(text)
	w.end(name)
}

func (w *writer) model(s model.Scenario) error {
	w.open("model")
	w.attr("name", s.Parameters.Name)
	w.closeOpen()
	w.element("populate-routing-tables", strconv.FormatBool(s.Parameters.PopulateTables))
	w.element("duration", s.Parameters.Duration)
	if err := w.precision(s.Parameters.Precision); err != nil {
		return err
	}
	for i, n := range s.Nodes {
		if err := w.node(fmt.Sprintf("nodes[%d]", i), n); err != nil {
			return err
		}
	}
	w.connections(s.Connections)
	w.registers(s.Registers)
	w.end("model")
	return nil
}

func (w *writer) precision(p model.Precision) error {
	if !p.Valid() {
		return &SerializationError{Path: "parameters.precision", Reason: fmt.Sprintf("unknown precision %d", int(p))}
	}
	w.element("precision", p.String())
	return nil
}

func (w *writer) node(path string, n model.Node) error {
	w.open("node")
	w.attr("name", n.Name)
	w.closeOpen()
	w.devices(n.Devices)
	if err := w.routing(path+".routing", n.Routes()); err != nil {
		return err
	}
	w.applications(n.Applications)
	w.end("node")
	return nil
}

func (w *writer) devices(devices []model.Device) {
	w.raw("<device-list>")
	for _, d := range devices {
		w.device(d)
	}
	w.end("device-list")
}

func (w *writer) device(d model.Device) {
	w.open("device")
	w.attr("name", d.Name)
	w.attr("type", d.Type)
	w.closeOpen()
	for _, a := range d.IPv4Addresses {
		w.open("address")
		w.attr("value", a.Address)
		w.attr("netmask", a.Netmask)
		w.selfClose()
	}
	for _, a := range d.IPv6Addresses {
		w.open("address")
		w.attr("value", a.Address)
		w.attr("prefix", a.Prefix)
		w.selfClose()
	}
	w.attributes(d.Attributes)
	w.end("device")
}

func (w *writer) routing(path string, routes []model.Route) error {
	w.raw("<routing>")
	for i, r := range routes {
		if err := w.route(fmt.Sprintf("%s[%d]", path, i), r); err != nil {
			return err
		}
	}
	w.end("routing")
	return nil
}

func (w *writer) route(path string, r model.Route) error {
	var network, maskName, mask, dst string
	var metric int
	switch v := r.(type) {
	case model.IPv4Route:
		network, maskName, mask, dst, metric = v.Network, "netmask", v.Netmask, v.Dst, v.Metric
	case model.IPv6Route:
		network, maskName, mask, dst, metric = v.Network, "prefix", v.Prefix, v.Dst, v.Metric
	case nil:
		return &SerializationError{Path: path, Reason: "route has neither netmask nor prefix"}
	default:
		return &SerializationError{Path: path, Reason: fmt.Sprintf("unsupported route type %T", r)}
	}
	w.open("route")
	w.attr("network", network)
	w.attr(maskName, mask)
	w.attr("dst", dst)
	w.attr("metric", strconv.Itoa(metric))
	w.selfClose()
	return nil
}

func (w *writer) applications(apps []model.Application) {
	w.raw("<applications>")
	for _, a := range apps {
		w.application(a)
	}
	w.end("applications")
}

func (w *writer) application(a model.Application) {
	w.open("application")
	w.attr("name", a.Name)
	w.attr("type", a.Type)
	w.closeOpen()
	w.attributes(a.Attributes)
	w.end("application")
}

func (w *writer) attributes(attrs model.Attributes) {
	w.raw("<attributes>")
	for _, a := range attrs {
		w.open("attribute")
		w.attr("key", a.Key)
		w.attr("value", a.Value)
		w.selfClose()
	}
	w.end("attributes")
}

func (w *writer) connections(conns []model.Connection) {
	w.raw("<connections>")
	for _, c := range conns {
		w.connection(c)
	}
	w.end("connections")
}

func (w *writer) connection(c model.Connection) {
	w.open("connection")
	w.attr("name", c.Name)
	w.attr("type", string(c.Type))
	w.closeOpen()
	w.raw("<interfaces>")
	for _, iface := range c.Interfaces {
		w.element("interface", iface)
	}
	w.end("interfaces")
	w.attributes(c.Attributes)
	w.end("connection")
}

func (w *writer) registers(regs []model.Register) {
	w.raw("<statistics>")
	for _, r := range regs {
		w.register(r)
	}
	w.end("statistics")
}

func (w *writer) register(r model.Register) {
	w.open("registrator")
	w.attr("value_name", r.ValueName)
	w.attr("type", r.Type)
	w.attr("source", r.Source)
	w.attr("start", r.Start)
	if r.End != nil {
		w.attr("end", *r.End)
	}
	w.attr("file", r.File)
	if r.Sink != nil {
		w.attr("sink", *r.Sink)
	}
	w.selfClose()
}
