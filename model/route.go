package model

// RouteKind distinguishes the two route variants.
type RouteKind int

const (
	RouteKindIPv4 RouteKind = iota + 1
	RouteKindIPv6
)

func (k RouteKind) String() string {
	switch k {
	case RouteKindIPv4:
		return "ipv4"
	case RouteKindIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Route is a static routing entry. It is implemented only by IPv4Route
// (netmask-kind) and IPv6Route (prefix-kind), so a route always carries
// exactly one of netmask or prefix.
type Route interface {
	Kind() RouteKind
	route()
}

// IPv4Route is a netmask-kind route.
type IPv4Route struct {
	Network string
	Dst     string
	Metric  int
	Netmask string
}

func (IPv4Route) Kind() RouteKind { return RouteKindIPv4 }
func (IPv4Route) route()          {}

// IPv6Route is a prefix-kind route.
type IPv6Route struct {
	Network string
	Dst     string
	Metric  int
	Prefix  string
}

func (IPv6Route) Kind() RouteKind { return RouteKindIPv6 }
func (IPv6Route) route()          {}

// NewIPv4Route returns the route a new routing-table row starts with.
func NewIPv4Route() IPv4Route {
	return IPv4Route{Network: "", Dst: "", Metric: 0, Netmask: ""}
}

// NewIPv6Route returns the route a new IPv6 routing-table row starts with.
func NewIPv6Route() IPv6Route {
	return IPv6Route{Network: "", Dst: "", Metric: 0, Prefix: "16"}
}

// NewRoute builds a route from the nullable netmask/prefix pair used by
// loosely typed inputs. Exactly one of netmask and prefix must be non-nil.
func NewRoute(network, dst string, metric int, netmask, prefix *string) (Route, error) {
	switch {
	case netmask != nil && prefix != nil:
		return nil, invalid("", "route", "route %q sets both netmask and prefix", network)
	case netmask == nil && prefix == nil:
		return nil, invalid("", "route", "route %q sets neither netmask nor prefix", network)
	case netmask != nil:
		return IPv4Route{Network: network, Dst: dst, Metric: metric, Netmask: *netmask}, nil
	default:
		return IPv6Route{Network: network, Dst: dst, Metric: metric, Prefix: *prefix}, nil
	}
}

// Routes returns the node's routes in projection order: IPv4 first, then
// IPv6, each list in its own order.
func (n Node) Routes() []Route {
	out := make([]Route, 0, len(n.IPv4Routes)+len(n.IPv6Routes))
	for _, r := range n.IPv4Routes {
		out = append(out, r)
	}
	for _, r := range n.IPv6Routes {
		out = append(out, r)
	}
	return out
}
