// Package channel defines the fixed set of telemetry channels.
package channel

import (
	"fmt"
	"strings"
)

// Channel identifies one telemetry signal. The set is closed: values outside
// [RPM, OilPressure] are invalid and never produced by this package.
type Channel uint8

const (
	RPM Channel = iota
	Speed
	Throttle
	Brake
	CoolantTemp
	OilPressure

	// Count is the number of declared channels.
	Count = int(OilPressure) + 1
)

// Range is the inclusive valid range of a channel's value.
type Range struct {
	Min, Max float64
}

// Contains reports whether v lies inside r.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

type definition struct {
	name  string
	unit  string
	valid Range
}

var definitions = [Count]definition{
	RPM:         {name: "rpm", unit: "rpm", valid: Range{Min: 0, Max: 16000}},
	Speed:       {name: "speed", unit: "mph", valid: Range{Min: 0, Max: 250}},
	Throttle:    {name: "throttle", unit: "%", valid: Range{Min: 0, Max: 100}},
	Brake:       {name: "brake", unit: "%", valid: Range{Min: 0, Max: 100}},
	CoolantTemp: {name: "coolant_temp", unit: "°F", valid: Range{Min: -40, Max: 300}},
	OilPressure: {name: "oil_pressure", unit: "psi", valid: Range{Min: 0, Max: 150}},
}

// All returns every channel in declaration order.
func All() []Channel {
	all := make([]Channel, Count)
	for i := range all {
		all[i] = Channel(i)
	}

	return all
}

// Valid reports whether c is a declared channel.
func (c Channel) Valid() bool {
	return int(c) < Count
}

func (c Channel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("channel(%d)", uint8(c))
	}

	return definitions[c].name
}

// Unit returns the display unit of c.
func (c Channel) Unit() string {
	if !c.Valid() {
		return ""
	}

	return definitions[c].unit
}

// Range returns the valid value range of c.
func (c Channel) Range() Range {
	if !c.Valid() {
		return Range{}
	}

	return definitions[c].valid
}

// Parse maps a channel name to its Channel. Matching is case-insensitive.
func Parse(name string) (Channel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, d := range definitions {
		if d.name == name {
			return Channel(i), nil
		}
	}

	return 0, fmt.Errorf("unknown channel %q", name)
}

// MarshalText implements encoding.TextMarshaler so channels can key JSON maps.
func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid channel %d", uint8(c))
	}

	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed

	return nil
}
