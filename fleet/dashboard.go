package fleet

import (
	"sort"
	"strings"
	"time"
)

// AvailableStatus is the vehicle status counted as active.
const AvailableStatus = "available"

// recentUsers is how many of the newest accounts a Dashboard lists.
const recentUsers = 5

/*
Dashboard is the landing page summary, computed from the users and the
vehicle registry as they are cached. It never triggers a fetch of its own.

A vehicle is active when its status is "available"; every other status,
empty included, counts as inactive. A user is an admin when the role name
is "admin" in any case. Drivers are counted once per distinct non-empty
driver name.
*/
type Dashboard struct {
	TotalUsers   int
	NewUsers     int // created in the month before now
	AdminUsers   int
	RegularUsers int

	TotalVehicles    int
	ActiveVehicles   int
	InactiveVehicles int
	ActiveDrivers    int

	// RecentUsers are the newest accounts, newest first.
	RecentUsers []User
}

// ActiveShare is the percentage of the fleet that is active, rounded down.
func (d Dashboard) ActiveShare() int {
	if d.TotalVehicles == 0 {
		return 0
	}
	return d.ActiveVehicles * 100 / d.TotalVehicles
}

// Summarize computes the dashboard aggregates. Users whose creation date
// does not parse are never new and sort after every dated user.
func Summarize(users []User, vehicles []Vehicle, now time.Time) Dashboard {
	d := Dashboard{TotalUsers: len(users), TotalVehicles: len(vehicles)}
	monthAgo := now.AddDate(0, -1, 0)

	created := make([]time.Time, len(users))
	for i, u := range users {
		if at, ok := ParseInstant(u.CreatedAt); ok {
			created[i] = at.Time
			if at.After(monthAgo) {
				d.NewUsers++
			}
		}
		if strings.EqualFold(strings.TrimSpace(u.RoleName), "admin") {
			d.AdminUsers++
		} else {
			d.RegularUsers++
		}
	}

	drivers := make(map[string]struct{})
	for _, v := range vehicles {
		if v.Status == AvailableStatus {
			d.ActiveVehicles++
		} else {
			d.InactiveVehicles++
		}
		if name := strings.TrimSpace(v.DriverFullname); name != "" {
			drivers[name] = struct{}{}
		}
	}
	d.ActiveDrivers = len(drivers)

	order := make([]int, len(users))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return created[order[a]].After(created[order[b]])
	})
	if len(order) > recentUsers {
		order = order[:recentUsers]
	}
	d.RecentUsers = make([]User, len(order))
	for i, idx := range order {
		d.RecentUsers[i] = users[idx]
	}
	return d
}
