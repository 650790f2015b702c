package scenariofile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/signalsfoundry/scenario-composer/model"
)

const sample = `
name: test
duration: 1s
populate_tables: true
precision: ms
nodes:
  - name: n0
    devices:
      - name: eth0
        type: Csma
        ipv4_addresses: [{address: 10.0.0.1, netmask: 255.255.255.0}]
        ipv6_addresses: [{address: "2001:db8::1", prefix: "64"}]
        attributes: [{key: DataRate, value: 5Mbps}, {key: DataRate, value: 10Mbps}]
    applications: [{name: echo, type: "ns3::UdpEchoServer"}]
    ipv4_routes: [{network: 10.1.0.0, netmask: 255.255.0.0, dst: eth0, metric: 1}]
    ipv6_routes: [{network: "2001:db8:1::", prefix: "64", dst: eth0, metric: 2}]
  - name: n1
connections:
  - {name: lan, type: Csma, interfaces: [n0/eth0, n1/eth0]}
tracers:
  - {value_name: CWND, type: "ns3::Uinteger32Probe", source: /NodeList/0/cwnd, start: 1s, file: cwnd, sink: out}
`

func TestDecodeSample(t *testing.T) {
	sc, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	want := model.Parameters{Name: "test", Duration: "1s", PopulateTables: true, Precision: model.PrecisionMS}
	if sc.Parameters != want {
		t.Fatalf("Parameters = %+v, want %+v", sc.Parameters, want)
	}
	if len(sc.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(sc.Nodes))
	}
	n0 := sc.Nodes[0]
	if got := n0.Devices[0].Attributes; len(got) != 2 || got[1].Value != "10Mbps" {
		t.Fatalf("device attributes = %+v, want both DataRate entries in order", got)
	}
	if got := n0.IPv4Routes; len(got) != 1 || got[0].Netmask != "255.255.0.0" || got[0].Metric != 1 {
		t.Fatalf("IPv4Routes = %+v", got)
	}
	if got := n0.IPv6Routes; len(got) != 1 || got[0].Prefix != "64" || got[0].Metric != 2 {
		t.Fatalf("IPv6Routes = %+v", got)
	}
	if sc.Nodes[1].Devices == nil || len(sc.Nodes[1].Devices) != 0 {
		t.Fatalf("n1 devices = %#v, want empty", sc.Nodes[1].Devices)
	}
	if got := sc.Connections[0]; got.Type != model.ConnectionCsma || !reflect.DeepEqual(got.Interfaces, []string{"n0/eth0", "n1/eth0"}) {
		t.Fatalf("connection = %+v", got)
	}
	r := sc.Registers[0]
	if r.End != nil || model.StringValue(r.Sink) != "out" {
		t.Fatalf("tracer end/sink = %v/%v", r.End, r.Sink)
	}
	if err := sc.Validate(); err != nil {
		t.Fatalf("decoded sample does not validate: %v", err)
	}
}

func TestDecodeFallsBackToDefaults(t *testing.T) {
	sc, err := Decode(strings.NewReader("name: only-name\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	def := model.DefaultScenario().Parameters
	if sc.Parameters.Name != "only-name" || sc.Parameters.Duration != def.Duration || sc.Parameters.Precision != def.Precision {
		t.Fatalf("Parameters = %+v", sc.Parameters)
	}

	empty, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Decode(empty) error = %v", err)
	}
	if !reflect.DeepEqual(empty, model.DefaultScenario()) {
		t.Fatalf("Decode(empty) = %+v, want default scenario", empty)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		invalid bool
	}{
		{"unknown field", "name: x\nlinks: []\n", false},
		{"bad precision", "precision: US\n", true},
		{"both masks", "nodes: [{name: n, ipv4_routes: [{network: a, netmask: m, prefix: p, dst: d, metric: 0}]}]\n", true},
		{"no mask", "nodes: [{name: n, ipv6_routes: [{network: a, dst: d, metric: 0}]}]\n", true},
		{"prefix under ipv4", "nodes: [{name: n, ipv4_routes: [{network: a, prefix: \"64\", dst: d, metric: 0}]}]\n", true},
		{"netmask under ipv6", "nodes: [{name: n, ipv6_routes: [{network: a, netmask: m, dst: d, metric: 0}]}]\n", true},
		{"not yaml", "nodes: [\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatalf("Decode() error = nil")
			}
			if got := errors.Is(err, model.ErrInvalid); got != tt.invalid {
				t.Fatalf("errors.Is(ErrInvalid) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}

func TestMisplacedRouteReportsPath(t *testing.T) {
	doc := "nodes: [{name: a}, {name: b, ipv6_routes: [{network: x, netmask: m, dst: d, metric: 0}]}]\n"
	_, err := Decode(strings.NewReader(doc))
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Decode() error = %v, want ValidationError", err)
	}
	if verr.Path != "nodes[1].ipv6_routes[0]" {
		t.Fatalf("Path = %q", verr.Path)
	}
}

func TestEncodeDecodePreservesScenario(t *testing.T) {
	orig, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, orig); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(buf.String(), "tracers:") || strings.Contains(buf.String(), "end:") {
		t.Fatalf("encoded document:\n%s", buf.String())
	}

	back, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode(encoded) error = %v", err)
	}
	if !reflect.DeepEqual(back, orig) {
		t.Fatalf("scenario changed through encode/decode:\n got %+v\nwant %+v", back, orig)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	sc := model.DefaultScenario()
	sc.Parameters.Name = "saved"

	if err := Save(path, sc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, sc) {
		t.Fatalf("Load() = %+v, want %+v", got, sc)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load(missing) error = %v, want ErrNotExist", err)
	}
}
