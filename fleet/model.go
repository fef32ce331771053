// Package fleet holds the admin API's records and the fetchers that load them.
package fleet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/krisalay/fleet-agenda-cache/timeline"
)

// RefID is an identifier the API sends as either a JSON number or a string.
type RefID string

func (id *RefID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RefID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = RefID(n.String())
	return nil
}

func (id RefID) String() string { return string(id) }

// Flag is a boolean the API sends as true/false, 0/1 or "0"/"1". It is
// written back as a plain JSON boolean.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	switch strings.ToLower(string(b)) {
	case "true", "1":
		*f = true
	case "false", "0", "null", "":
		*f = false
	default:
		return fmt.Errorf("fleet: %s is not a boolean flag", b)
	}
	return nil
}

// Instant is a timestamp in any of the layouts the API is known to use. An
// unparseable value decodes to the zero time rather than failing the batch.
type Instant struct{ time.Time }

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func ParseInstant(s string) (Instant, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Instant{t}, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Instant{time.UnixMilli(ms).UTC()}, true
	}
	return Instant{}, false
}

func (i *Instant) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Numbers (epoch millis) and null land here.
		s = string(bytes.TrimSpace(b))
	}
	*i, _ = ParseInstant(s)
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(i.UTC().Format(time.RFC3339))
}

// User is an admin console user account.
type User struct {
	ID              RefID  `json:"id"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	Tel             string `json:"tel,omitempty"`
	RoleName        string `json:"role_name,omitempty"`
	Enabled         Flag   `json:"enabled"`
	ProfilePhotoURL string `json:"profile_photo_url,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`

	Address     string          `json:"address,omitempty"`
	LastLoginAt string          `json:"last_login_at,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

// TrimUser keeps only the fields persisted to durable storage.
func TrimUser(u User) User {
	return User{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Username:        u.Username,
		Email:           u.Email,
		Tel:             u.Tel,
		RoleName:        u.RoleName,
		Enabled:         u.Enabled,
		ProfilePhotoURL: u.ProfilePhotoURL,
		CreatedAt:       u.CreatedAt,
	}
}

// FullName joins first and last name, falling back to the username.
func (u User) FullName() string {
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	return u.Username
}

// Vehicle is one entry of the vehicle registry.
type Vehicle struct {
	ID             RefID  `json:"id"`
	Brand          string `json:"brand,omitempty"`
	Model          string `json:"model,omitempty"`
	Matricule      string `json:"matricule,omitempty"`
	VIN            string `json:"vin,omitempty"`
	DriverFullname string `json:"driver_fullname,omitempty"`
	Status         string `json:"status,omitempty"`

	Color     string          `json:"color,omitempty"`
	Year      int             `json:"year,omitempty"`
	Mileage   int             `json:"mileage,omitempty"`
	PhotoURL  string          `json:"photo_url,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	Documents json.RawMessage `json:"documents,omitempty"`
}

// TrimVehicle keeps only the fields persisted to durable storage.
func TrimVehicle(v Vehicle) Vehicle {
	return Vehicle{
		ID:             v.ID,
		Brand:          v.Brand,
		Model:          v.Model,
		Matricule:      v.Matricule,
		VIN:            v.VIN,
		DriverFullname: v.DriverFullname,
		Status:         v.Status,
	}
}

// DisplayName is "Brand Model (Matricule)", leaving out missing parts.
func (v Vehicle) DisplayName() string {
	name := strings.Join(strings.Fields(v.Brand+" "+v.Model), " ")
	switch {
	case name != "" && v.Matricule != "":
		return name + " (" + v.Matricule + ")"
	case name != "":
		return name
	default:
		return v.Matricule
	}
}

// Entity converts the vehicle to a timeline registry entry.
func (v Vehicle) Entity() timeline.Entity {
	return timeline.Entity{ID: v.ID.String(), DisplayName: v.DisplayName()}
}

// MatchVehicle reports whether query appears, ignoring case, in the brand,
// model, matricule, VIN or driver name. An empty query matches everything.
func MatchVehicle(v Vehicle, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{v.Brand, v.Model, v.Matricule, v.VIN, v.DriverFullname} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Booking is one vehicle reservation or maintenance slot.
type Booking struct {
	ID              RefID   `json:"id"`
	VehicleID       RefID   `json:"vehicle_id"`
	Start           Instant `json:"start"`
	End             Instant `json:"end"`
	Status          string  `json:"status"`
	VehicleFullname string  `json:"vehicle_fullname,omitempty"`

	UserID RefID  `json:"user_id,omitempty"`
	Price  string `json:"price,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// TrimBooking keeps only the fields persisted to durable storage.
func TrimBooking(b Booking) Booking {
	return Booking{
		ID:              b.ID,
		VehicleID:       b.VehicleID,
		Start:           b.Start,
		End:             b.End,
		Status:          b.Status,
		VehicleFullname: b.VehicleFullname,
	}
}

// Record converts the booking to a timeline record.
func (b Booking) Record() timeline.Record {
	return timeline.Record{
		ID:            b.ID.String(),
		ResourceRefID: b.VehicleID.String(),
		Start:         b.Start.Time,
		End:           b.End.Time,
		Status:        b.Status,
		DisplayName:   b.VehicleFullname,
	}
}
