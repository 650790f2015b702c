package model

// IPv4Address is an address assigned to a device with its netmask.
type IPv4Address struct {
	Address string
	Netmask string
}

// IPv6Address is an address assigned to a device with its prefix length.
type IPv6Address struct {
	Address string
	Prefix  string
}

// Device is a network interface attached to a node.
type Device struct {
	Name          string
	Type          string
	IPv4Addresses []IPv4Address
	IPv6Addresses []IPv6Address
	Attributes    Attributes
}

// NewDevice returns the device a node editor adds by default.
func NewDevice() Device {
	return Device{
		Name:          "eth",
		Type:          "Csma",
		IPv4Addresses: []IPv4Address{},
		IPv6Addresses: []IPv6Address{},
		Attributes:    Attributes{},
	}
}

// Clone returns a deep copy of d.
func (d Device) Clone() Device {
	out := d
	if d.IPv4Addresses != nil {
		out.IPv4Addresses = append(make([]IPv4Address, 0, len(d.IPv4Addresses)), d.IPv4Addresses...)
	}
	if d.IPv6Addresses != nil {
		out.IPv6Addresses = append(make([]IPv6Address, 0, len(d.IPv6Addresses)), d.IPv6Addresses...)
	}
	out.Attributes = d.Attributes.Clone()
	return out
}

// Application is a simulator application installed on a node.
type Application struct {
	Name       string
	Type       string
	Attributes Attributes
}

// NewApplication returns the application a node editor adds by default.
func NewApplication() Application {
	return Application{Name: "app", Type: "", Attributes: Attributes{}}
}

// Clone returns a deep copy of a.
func (a Application) Clone() Application {
	out := a
	out.Attributes = a.Attributes.Clone()
	return out
}

// Node is a simulated network endpoint. IPv4Routes and IPv6Routes hold the
// two route variants separately; the element types keep each list
// homogeneous.
type Node struct {
	Name         string
	Devices      []Device
	Applications []Application
	IPv4Routes   []IPv4Route
	IPv6Routes   []IPv6Route
}

// NewNode returns the node a node list adds by default.
func NewNode() Node {
	return Node{
		Name:         "new",
		Devices:      []Device{},
		Applications: []Application{},
		IPv4Routes:   []IPv4Route{},
		IPv6Routes:   []IPv6Route{},
	}
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := Node{Name: n.Name}
	if n.Devices != nil {
		out.Devices = make([]Device, len(n.Devices))
		for i, d := range n.Devices {
			out.Devices[i] = d.Clone()
		}
	}
	if n.Applications != nil {
		out.Applications = make([]Application, len(n.Applications))
		for i, a := range n.Applications {
			out.Applications[i] = a.Clone()
		}
	}
	if n.IPv4Routes != nil {
		out.IPv4Routes = append(make([]IPv4Route, 0, len(n.IPv4Routes)), n.IPv4Routes...)
	}
	if n.IPv6Routes != nil {
		out.IPv6Routes = append(make([]IPv6Route, 0, len(n.IPv6Routes)), n.IPv6Routes...)
	}
	return out
}

// Device returns the first device named name.
func (n Node) Device(name string) (Device, bool) {
	for _, d := range n.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// CloneNodes deep-copies a node list; nil stays nil.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
