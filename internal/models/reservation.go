package models

import (
	"errors"
	"strings"
	"time"
)

// StorageDateLayout is the canonical layout of Reservation.Date in the database.
const StorageDateLayout = "2006-01-02"

// LegacyDateLayout is the DD-MM-YYYY layout used by older clients.
const LegacyDateLayout = "02-01-2006"

// ErrInvalidDate is returned when a date matches none of the accepted layouts.
var ErrInvalidDate = errors.New("invalid date; expected YYYY-MM-DD or DD-MM-YYYY")

// Reservation is a single machine booking for one time slot.
type Reservation struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Room      string    `json:"room"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Time      string    `json:"time"` // HH:MM
	Machine   string    `json:"machine"`
	CreatedAt time.Time `json:"created_at"`
}

// Owner returns the local part of the email, used as a short display name.
func (r *Reservation) Owner() string {
	return LocalPart(r.Email)
}

// IsOwnedBy reports whether email identifies the owner of the reservation.
func (r *Reservation) IsOwnedBy(email string) bool {
	return NormalizeEmail(r.Email) == NormalizeEmail(email)
}

// Day parses the stored date.
func (r *Reservation) Day() (time.Time, error) {
	return time.Parse(StorageDateLayout, r.Date)
}

// MachineSlot is one machine within a time slot of a day view.
type MachineSlot struct {
	Name     string `json:"name"`
	Booked   bool   `json:"booked"`
	BookedBy string `json:"booked_by,omitempty"`
}

// TimeSlot lists all machines for one start time.
type TimeSlot struct {
	Time     string        `json:"time"`
	Machines []MachineSlot `json:"machines"`
}

// DayView is the full slot grid for one date.
type DayView struct {
	Date      string     `json:"date"`
	TimeSlots []TimeSlot `json:"timeslots"`
}

// Cells returns the number of (time, machine) cells in the view.
func (v *DayView) Cells() int {
	n := 0
	for _, ts := range v.TimeSlots {
		n += len(ts.Machines)
	}
	return n
}

// NormalizeEmail lower-cases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LocalPart returns the part of email before '@'.
func LocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// ParseDay accepts YYYY-MM-DD and DD-MM-YYYY.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{StorageDateLayout, LegacyDateLayout} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// NormalizeDay converts an accepted date string to StorageDateLayout.
func NormalizeDay(s string) (string, error) {
	d, err := ParseDay(s)
	if err != nil {
		return "", err
	}
	return d.Format(StorageDateLayout), nil
}

// FormatDay renders a stored date in layout. Unparseable input is returned unchanged.
func FormatDay(stored, layout string) string {
	if layout == "" || layout == StorageDateLayout {
		return stored
	}
	d, err := time.Parse(StorageDateLayout, stored)
	if err != nil {
		return stored
	}
	return d.Format(layout)
}
