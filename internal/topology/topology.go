// Package topology derives a node/connection graph from a scenario and
// renders it as Graphviz DOT.
package topology

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/scenario-composer/model"
)

// VertexKind distinguishes scenario nodes from connection hubs.
type VertexKind int

const (
	VertexNode VertexKind = iota
	VertexHub
)

// Vertex is one drawable point of the graph.
type Vertex struct {
	ID    string
	Label string
	Kind  VertexKind
}

// Edge joins two vertices. Connection names the scenario connection the
// edge was derived from.
type Edge struct {
	From       string
	To         string
	Connection string
}

// Graph is the undirected topology of a scenario.
type Graph struct {
	Vertices []Vertex
	Edges    []Edge
}

// Build projects sc onto a graph. Every node becomes a vertex. A
// connection with two endpoints becomes an edge when both endpoint nodes
// exist; one with more endpoints gets a hub vertex labelled with the
// connection name and an edge to each endpoint node that exists. When two
// nodes share a name, references resolve to the last of them.
func Build(sc model.Scenario) Graph {
	g := Graph{Vertices: make([]Vertex, 0, len(sc.Nodes))}
	byName := make(map[string]string, len(sc.Nodes))
	for i, n := range sc.Nodes {
		id := "n" + strconv.Itoa(i)
		g.Vertices = append(g.Vertices, Vertex{ID: id, Label: n.Name, Kind: VertexNode})
		byName[n.Name] = id
	}

	for i, c := range sc.Connections {
		endpoints := make([]string, 0, len(c.Interfaces))
		for _, ref := range c.Interfaces {
			node, _, _ := strings.Cut(ref, "/")
			endpoints = append(endpoints, node)
		}

		switch {
		case len(endpoints) == 2:
			src, okSrc := byName[endpoints[0]]
			dst, okDst := byName[endpoints[1]]
			if okSrc && okDst {
				g.Edges = append(g.Edges, Edge{From: src, To: dst, Connection: c.Name})
			}
		case len(endpoints) > 2:
			hub := "c" + strconv.Itoa(i)
			g.Vertices = append(g.Vertices, Vertex{ID: hub, Label: c.Name, Kind: VertexHub})
			for _, ep := range endpoints {
				if id, ok := byName[ep]; ok {
					g.Edges = append(g.Edges, Edge{From: id, To: hub, Connection: c.Name})
				}
			}
		}
	}
	return g
}

// WriteDOT renders g as an undirected Graphviz graph. Hub vertices are
// drawn as plain text.
func WriteDOT(w io.Writer, g Graph) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "graph topology {")
	for _, v := range g.Vertices {
		if v.Kind == VertexHub {
			fmt.Fprintf(bw, "  %s [label=%s, shape=plaintext];\n", v.ID, strconv.Quote(v.Label))
			continue
		}
		fmt.Fprintf(bw, "  %s [label=%s];\n", v.ID, strconv.Quote(v.Label))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(bw, "  %s -- %s [tooltip=%s];\n", e.From, e.To, strconv.Quote(e.Connection))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
