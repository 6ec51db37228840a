package monitor

import (
	"fmt"
	"math/bits"
	"strings"
)

// Mask is a set of event flags found in one read of the log.
type Mask uint32

// Flag is a single-bit Mask naming one tracked event.
type Flag Mask

const (
	FlagEditorStarted Flag = 1 << iota
	FlagPIEStarted
	FlagMapCheckDone
	FlagCriticalError
	FlagEditorExiting
)

// FlagDef binds a flag to the log marker that sets it and the text sent
// when it rises.
type FlagDef struct {
	Flag    Flag
	Name    string
	Marker  string
	Message string
}

var flagDefs = []FlagDef{
	{Flag: FlagEditorStarted, Name: "editor_started", Marker: "LogInit: Display: Engine is initialized.", Message: "Start Editor"},
	{Flag: FlagPIEStarted, Name: "pie_started", Marker: "PIE: Play in editor total start time", Message: "Play In Editor started"},
	{Flag: FlagMapCheckDone, Name: "map_check_done", Marker: "Map check complete:", Message: "Map check finished"},
	{Flag: FlagCriticalError, Name: "critical_error", Marker: "=== Critical error: ===", Message: "Editor crashed"},
	{Flag: FlagEditorExiting, Name: "editor_exiting", Marker: "LogExit: Exiting.", Message: "Editor closed"},
}

// AllFlags is the mask of every defined flag.
var AllFlags = func() Mask {
	var m Mask
	for _, d := range flagDefs {
		m |= Mask(d.Flag)
	}
	return m
}()

// Flags returns the flag definitions in bit order.
func Flags() []FlagDef {
	return append([]FlagDef(nil), flagDefs...)
}

func lookup(f Flag) (FlagDef, bool) {
	for _, d := range flagDefs {
		if d.Flag == f {
			return d, true
		}
	}
	return FlagDef{}, false
}

func (f Flag) String() string {
	if d, ok := lookup(f); ok {
		return d.Name
	}
	return fmt.Sprintf("flag(0x%x)", uint32(f))
}

// Message returns the notification text for f.
func (f Flag) Message() string {
	if d, ok := lookup(f); ok {
		return d.Message
	}
	return f.String()
}

func (m Mask) Has(f Flag) bool { return m&Mask(f) != 0 }

func (m Mask) Count() int { return bits.OnesCount32(uint32(m)) }

// String lists the set flag names, e.g. "editor_started|pie_started".
func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	names := make([]string, 0, m.Count())
	for _, d := range flagDefs {
		if m.Has(d.Flag) {
			names = append(names, d.Name)
		}
	}
	if rest := m &^ AllFlags; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// ParseFlagNames turns config flag names into a Mask. An empty list selects
// every defined flag.
func ParseFlagNames(names []string) (Mask, error) {
	if len(names) == 0 {
		return AllFlags, nil
	}
	var m Mask
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		found := false
		for _, d := range flagDefs {
			if d.Name == name {
				m |= Mask(d.Flag)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", raw)
		}
	}
	return m, nil
}

// ParsedState is the mask of one completed poll. The zero value is the
// absent state before the first poll.
type ParsedState struct {
	Mask  Mask
	Valid bool
}

func Observed(m Mask) ParsedState { return ParsedState{Mask: m, Valid: true} }
