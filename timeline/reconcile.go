// Package timeline turns a page of bookings plus a vehicle registry into the
// resource and event lists of a scheduling timeline.
package timeline

import (
	"fmt"
	"strings"
	"time"
)

// DefaultKeyWidth is the minimum number of digits in a resource key.
const DefaultKeyWidth = 4

// Record is one time-ranged booking as fetched. ResourceRefID points into the
// registry; DisplayName is the name denormalised onto the booking, if any.
type Record struct {
	ID            string
	ResourceRefID string
	Start         time.Time
	End           time.Time
	Status        string
	DisplayName   string
}

// Entity is one registry entry.
type Entity struct {
	ID          string
	DisplayName string
}

// Resource is one timeline row. Key is an ordinal, not the entity id.
type Resource struct {
	Key           string
	OriginalRefID string
	Title         string
}

// Event is one booking bound to its row.
type Event struct {
	ID            string
	ResourceKey   string
	Start         time.Time
	End           time.Time
	Status        Status
	DurationLabel string
}

// DropReason says why a record was left out.
type DropReason string

const (
	DropUnknownStatus DropReason = "unknown_status"
	DropMissingID     DropReason = "missing_id"
	DropMissingRef    DropReason = "missing_resource"
	DropBadRange      DropReason = "bad_range"
)

// Dropped is a record that could not be placed on the timeline.
type Dropped struct {
	RecordID string
	Reason   DropReason
}

// Result is the reconciled model. Resources are in key order and every
// Event.ResourceKey names a Resource in the list.
type Result struct {
	Resources []Resource
	Events    []Event
	Dropped   []Dropped
}

// Options tunes a reconciliation pass.
type Options struct {
	// Search narrows resources to titles containing it, ignoring case.
	// Events of hidden resources are hidden too. Keys are assigned before
	// the search is applied.
	Search string

	// KeyWidth is the minimum zero-padded key width. It grows when the
	// record count needs more digits.
	KeyWidth int
}

/*
Reconcile builds the timeline model for one page of records.

Records are walked in the order given. Each new ResourceRefID gets the next
ordinal key; its title is the record's DisplayName, else the registry's
name for that id, else "Vehicle #<id>". Every surviving record becomes one
event on its resource's key.

Records with an unknown status, a missing id or resource, or a time range
that is unset, empty (End == Start) or inverted are dropped before keys are
assigned, so they neither take an ordinal nor produce an event.

Keys are only stable for a given record list: a different page or filter
may number the same vehicle differently.
*/
func Reconcile(records []Record, registry []Entity, opts Options) Result {
	names := make(map[string]string, len(registry))
	for _, e := range registry {
		if e.ID != "" && e.DisplayName != "" {
			names[e.ID] = e.DisplayName
		}
	}

	type accepted struct {
		rec    Record
		status Status
	}
	var (
		res  Result
		keep = make([]accepted, 0, len(records))
	)
	for _, r := range records {
		st, reason := validate(r)
		if reason != "" {
			res.Dropped = append(res.Dropped, Dropped{RecordID: r.ID, Reason: reason})
			continue
		}
		keep = append(keep, accepted{rec: r, status: st})
	}

	width := keyWidth(len(keep), opts.KeyWidth)
	keys := make(map[string]string)
	resources := make([]Resource, 0)
	events := make([]Event, 0, len(keep))

	for _, a := range keep {
		r := a.rec
		key, seen := keys[r.ResourceRefID]
		if !seen {
			key = fmt.Sprintf("%0*d", width, len(resources))
			keys[r.ResourceRefID] = key
			resources = append(resources, Resource{
				Key:           key,
				OriginalRefID: r.ResourceRefID,
				Title:         title(r, names),
			})
		}
		events = append(events, Event{
			ID:            r.ID,
			ResourceKey:   key,
			Start:         r.Start,
			End:           r.End,
			Status:        a.status,
			DurationLabel: DurationLabel(r.End.Sub(r.Start)),
		})
	}

	res.Resources, res.Events = applySearch(resources, events, opts.Search)
	return res
}

func validate(r Record) (Status, DropReason) {
	st, ok := ParseStatus(r.Status)
	switch {
	case !ok:
		return "", DropUnknownStatus
	case strings.TrimSpace(r.ID) == "":
		return "", DropMissingID
	case strings.TrimSpace(r.ResourceRefID) == "":
		return "", DropMissingRef
	case r.Start.IsZero() || r.End.IsZero() || !r.End.After(r.Start):
		return "", DropBadRange
	}
	return st, ""
}

func title(r Record, names map[string]string) string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return name
	}
	if name, ok := names[r.ResourceRefID]; ok {
		return name
	}
	return "Vehicle #" + r.ResourceRefID
}

func keyWidth(n, minWidth int) int {
	if minWidth <= 0 {
		minWidth = DefaultKeyWidth
	}
	w := len(fmt.Sprint(max(n-1, 0)))
	return max(w, minWidth)
}

func applySearch(resources []Resource, events []Event, search string) ([]Resource, []Event) {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return resources, events
	}

	visible := make(map[string]bool)
	outR := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if strings.Contains(strings.ToLower(r.Title), q) {
			visible[r.Key] = true
			outR = append(outR, r)
		}
	}
	outE := make([]Event, 0, len(events))
	for _, e := range events {
		if visible[e.ResourceKey] {
			outE = append(outE, e)
		}
	}
	return outR, outE
}
