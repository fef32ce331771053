package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/krisalay/fleet-agenda-cache/types"
)

// ErrRejected is returned when the API answers 2xx with "success": false.
var ErrRejected = errors.New("fleet: request rejected by api")

// Requester is the transport the fetchers need. *transport.Client satisfies it.
type Requester interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
}

// BookingFields are the columns requested for the agenda.
var BookingFields = []string{"id", "start", "end", "vehicle_id", "status", "vehicle_fullname"}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Total   *int   `json:"total"`
}

func (e envelope) check(path string) error {
	if e.Success {
		return nil
	}
	if e.Message != "" {
		return fmt.Errorf("%s: %s: %w", path, e.Message, ErrRejected)
	}
	return fmt.Errorf("%s: %w", path, ErrRejected)
}

func (e envelope) total() int {
	if e.Total == nil {
		return -1
	}
	return *e.Total
}

// Users loads every user account.
func Users(r Requester) types.Fetcher[[]User] {
	return types.FetcherFunc[[]User](func(ctx context.Context) ([]User, error) {
		const path = "/view/allusers"
		var resp struct {
			envelope
			Users []User `json:"myusers"`
		}
		if err := r.Get(ctx, path, &resp); err != nil {
			return nil, err
		}
		if err := resp.check(path); err != nil {
			return nil, err
		}
		if resp.Users == nil {
			resp.Users = []User{}
		}
		return resp.Users, nil
	})
}

// Registry loads the whole vehicle registry used to title timeline rows.
// The endpoint has answered with a bare array and with the list under
// "myvehicles", "data" or "records"; all are accepted.
func Registry(r Requester) types.Fetcher[[]Vehicle] {
	return types.FetcherFunc[[]Vehicle](func(ctx context.Context) ([]Vehicle, error) {
		const path = "/get/allvehicles01"
		var raw json.RawMessage
		if err := r.Get(ctx, path, &raw); err != nil {
			return nil, err
		}
		vs, err := decodeVehicleList(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return vs, nil
	})
}

func decodeVehicleList(raw json.RawMessage) ([]Vehicle, error) {
	var list []Vehicle
	if err := json.Unmarshal(raw, &list); err == nil {
		if list == nil {
			list = []Vehicle{}
		}
		return list, nil
	}

	var obj struct {
		Success    *bool     `json:"success"`
		Message    string    `json:"message"`
		MyVehicles []Vehicle `json:"myvehicles"`
		Data       []Vehicle `json:"data"`
		Records    []Vehicle `json:"records"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode vehicle list: %w", err)
	}
	if obj.Success != nil && !*obj.Success {
		return nil, fmt.Errorf("%s: %w", obj.Message, ErrRejected)
	}
	switch {
	case obj.MyVehicles != nil:
		return obj.MyVehicles, nil
	case obj.Data != nil:
		return obj.Data, nil
	case obj.Records != nil:
		return obj.Records, nil
	default:
		return []Vehicle{}, nil
	}
}

// VehiclePages loads one page of the vehicle list.
func VehiclePages(r Requester) types.PageFetcher[Vehicle] {
	return types.PageFetcherFunc[Vehicle](func(ctx context.Context, page int, f types.Filter) (types.Page[Vehicle], error) {
		q := url.Values{"page": {strconv.Itoa(page)}}
		if ff, ok := f.(Filter); ok {
			n := ff.normalized()
			if n.Status != "" {
				q.Set("status", n.Status)
			}
			if n.Search != "" {
				q.Set("search", n.Search)
			}
		}
		path := "/view/vehicles?" + q.Encode()

		var resp struct {
			envelope
			Vehicles []Vehicle `json:"myvehicles"`
		}
		if err := r.Get(ctx, path, &resp); err != nil {
			return types.Page[Vehicle]{}, err
		}
		if err := resp.check(path); err != nil {
			return types.Page[Vehicle]{}, err
		}
		return types.Page[Vehicle]{Items: nonNil(resp.Vehicles), Total: resp.total()}, nil
	})
}

type universalSelect struct {
	Table     string            `json:"table"`
	Select    []string          `json:"select"`
	Batch     int               `json:"batch"`
	BatchSize int               `json:"batch_size"`
	Where     map[string]string `json:"where,omitempty"`
	Search    string            `json:"search,omitempty"`
}

// BookingPages loads one page of vehicle bookings through the universal
// select endpoint, batch = page.
func BookingPages(r Requester, pageSize int) types.PageFetcher[Booking] {
	return types.PageFetcherFunc[Booking](func(ctx context.Context, page int, f types.Filter) (types.Page[Booking], error) {
		const path = "/select/universal"
		body := universalSelect{
			Table:     "vehiclesbookings",
			Select:    BookingFields,
			Batch:     page,
			BatchSize: pageSize,
		}
		if ff, ok := f.(Filter); ok {
			n := ff.normalized()
			if n.Status != "" {
				body.Where = map[string]string{"status": n.Status}
			}
			body.Search = n.Search
		}

		var resp struct {
			envelope
			Records []Booking `json:"records"`
		}
		if err := r.Post(ctx, path, body, &resp); err != nil {
			return types.Page[Booking]{}, err
		}
		if err := resp.check(path); err != nil {
			return types.Page[Booking]{}, err
		}
		return types.Page[Booking]{Items: nonNil(resp.Records), Total: resp.total()}, nil
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
