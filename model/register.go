package model

import "strings"

// Register asks the simulator to sample a value path into an output file.
// End and Sink are optional: nil omits the attribute entirely.
type Register struct {
	ValueName string
	Type      string
	Source    string
	Start     string
	File      string
	End       *string
	Sink      *string
}

// NewRegister returns the tracer a tracer list adds by default.
func NewRegister() Register {
	return Register{
		ValueName: "val",
		Type:      "",
		Source:    "",
		Start:     "0s",
		File:      "file_name",
	}
}

// Clone returns a deep copy of r; End and Sink are re-allocated.
func (r Register) Clone() Register {
	out := r
	out.End = clonePtr(r.End)
	out.Sink = clonePtr(r.Sink)
	return out
}

// CloneRegisters deep-copies a register list; nil stays nil.
func CloneRegisters(regs []Register) []Register {
	if regs == nil {
		return nil
	}
	out := make([]Register, len(regs))
	for i, r := range regs {
		out[i] = r.Clone()
	}
	return out
}

// OptionalString trims s and returns nil when nothing is left, the way a
// cleared optional field is stored.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
