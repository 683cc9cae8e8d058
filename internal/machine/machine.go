// Package machine holds the key set of the machine state map and the mapping
// from controller state strings to display colors.
package machine

import (
	"maps"
	"strings"

	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/link"
)

// Keys of the machine state map written by the poller.
const (
	KeyState             = "state"
	KeyColor             = "color"
	KeyWX                = "wx"
	KeyWY                = "wy"
	KeyWZ                = "wz"
	KeyMX                = "mx"
	KeyMY                = "my"
	KeyMZ                = "mz"
	KeyRunning           = "running"
	KeyProgressCompleted = "progress_completed"
	KeyProgressTotal     = "progress_total"
	KeyBufferFill        = "buffer_fill"
)

// DefaultState returns a fresh map with every machine key at its zero value.
// Seeding the store with it gives observers a typed old value on the first
// change.
func DefaultState() map[string]interface{} {
	return map[string]interface{}{
		KeyState:             link.StateNotConnected,
		KeyColor:             DefaultColor,
		KeyWX:                0.0,
		KeyWY:                0.0,
		KeyWZ:                0.0,
		KeyMX:                0.0,
		KeyMY:                0.0,
		KeyMZ:                0.0,
		KeyRunning:           false,
		KeyProgressCompleted: 0,
		KeyProgressTotal:     0,
		KeyBufferFill:        0.0,
	}
}

// PositionValues flattens pos into the six coordinate keys.
func PositionValues(pos link.Position) map[string]interface{} {
	return map[string]interface{}{
		KeyWX: pos.WX, KeyWY: pos.WY, KeyWZ: pos.WZ,
		KeyMX: pos.MX, KeyMY: pos.MY, KeyMZ: pos.MZ,
	}
}

const (
	// AlarmState is the controller state that also names the alarm color.
	AlarmState   = "Alarm"
	AlarmColor   = "Red"
	DefaultColor = "LightYellow"
)

var defaultColors = map[string]string{
	"Idle":                 "Yellow",
	"Run":                  "LightGreen",
	"Hold":                 "Orange",
	"Hold:0":               "Orange",
	"Hold:1":               "OrangeRed",
	"Jog":                  "Green",
	"Home":                 "Green",
	AlarmState:             AlarmColor,
	"Door":                 "Red",
	"Check":                "Magenta",
	"Sleep":                "LightBlue",
	link.StateConnected:    "Yellow",
	link.StateNotConnected: "OrangeRed",
}

// ColorTable resolves a display color for a controller state.
type ColorTable struct {
	Colors  map[string]string
	Alarm   string
	Default string
}

// DefaultColorTable returns a copy of the built-in table.
func DefaultColorTable() ColorTable {
	return ColorTable{Colors: maps.Clone(defaultColors), Alarm: AlarmColor, Default: DefaultColor}
}

// WithOverrides returns a copy of t with colors merged over its table. Empty
// alarm or default strings keep the current value.
func (t ColorTable) WithOverrides(colors map[string]string, alarm, def string) ColorTable {
	out := ColorTable{Colors: maps.Clone(t.Colors), Alarm: t.Alarm, Default: t.Default}
	if out.Colors == nil {
		out.Colors = make(map[string]string, len(colors))
	}
	maps.Copy(out.Colors, colors)
	if alarm != "" {
		out.Alarm = alarm
	}
	if def != "" {
		out.Default = def
	}
	return out
}

// Resolve returns the color for state. Unknown states resolve to the alarm
// color when the controller is alarmed or the state is an alarm state (for
// example "Alarm:1"), otherwise to the default color.
func (t ColorTable) Resolve(state string, alarm bool) string {
	if c, ok := t.Colors[state]; ok {
		return c
	}
	if alarm || strings.HasPrefix(state, AlarmState) {
		if t.Alarm != "" {
			return t.Alarm
		}
		return AlarmColor
	}
	if t.Default != "" {
		return t.Default
	}
	return DefaultColor
}

// IsHold reports whether state is a feed hold.
func IsHold(state string) bool {
	return strings.Contains(state, "Hold")
}
