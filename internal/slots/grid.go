package slots

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const timeLayout = "15:04"

// Grid describes the bookable slots of every day.
type Grid struct {
	StartTime   string   // "08:00"
	SlotCount   int      // number of slots per day
	SlotMinutes int      // slot length
	Machines    []string // machine names in display order
}

// DefaultMachines are the four machines of the laundry room.
func DefaultMachines() []string {
	return []string{"M1", "M2", "M3", "M4"}
}

// DefaultGrid is 08:00 to 22:00, hourly.
func DefaultGrid() Grid {
	return Grid{StartTime: "08:00", SlotCount: 15, SlotMinutes: 60, Machines: DefaultMachines()}
}

// LegacyGrid is 07:00 to 22:00, hourly.
func LegacyGrid() Grid {
	return Grid{StartTime: "07:00", SlotCount: 16, SlotMinutes: 60, Machines: DefaultMachines()}
}

// Validate rejects grids that would produce an empty or malformed day.
func (g Grid) Validate() error {
	start, err := time.Parse(timeLayout, g.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start time %q: %w", g.StartTime, err)
	}
	if g.SlotCount <= 0 {
		return errors.New("slot count must be positive")
	}
	if g.SlotMinutes <= 0 {
		return errors.New("slot length must be positive")
	}
	minutes := start.Hour()*60 + start.Minute() + g.SlotCount*g.SlotMinutes
	if minutes > 24*60 {
		return errors.New("slots run past midnight")
	}
	if len(g.Machines) == 0 {
		return errors.New("no machines configured")
	}
	seen := make(map[string]struct{}, len(g.Machines))
	for _, m := range g.Machines {
		if strings.TrimSpace(m) == "" {
			return errors.New("empty machine name")
		}
		if _, ok := seen[m]; ok {
			return fmt.Errorf("duplicate machine %q", m)
		}
		seen[m] = struct{}{}
	}
	return nil
}

// Times returns the slot start labels in order. An invalid start time yields nil.
func (g Grid) Times() []string {
	start, err := time.Parse(timeLayout, g.StartTime)
	if err != nil || g.SlotCount <= 0 {
		return nil
	}
	step := time.Duration(g.SlotMinutes) * time.Minute
	times := make([]string, 0, g.SlotCount)
	for i := 0; i < g.SlotCount; i++ {
		times = append(times, start.Add(time.Duration(i)*step).Format(timeLayout))
	}
	return times
}

// HasTime reports whether t is one of the slot labels.
func (g Grid) HasTime(t string) bool {
	for _, label := range g.Times() {
		if label == t {
			return true
		}
	}
	return false
}

// HasMachine reports whether name is a configured machine.
func (g Grid) HasMachine(name string) bool {
	for _, m := range g.Machines {
		if m == name {
			return true
		}
	}
	return false
}
