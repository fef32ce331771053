package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krisalay/fleet-agenda-cache/config"
	"github.com/krisalay/fleet-agenda-cache/fleet"
	"github.com/krisalay/fleet-agenda-cache/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ================= IN-MEMORY API =================

// DemoAPI is a small fleet served from memory. It prints every request so
// the demo shows which reads reached the network.
type DemoAPI struct {
	out      io.Writer
	vehicles []fleet.Vehicle
	bookings []fleet.Booking
	down     atomic.Bool
	mu       sync.Mutex
}

func NewDemoAPI(out io.Writer) *DemoAPI {
	api := &DemoAPI{out: out}
	models := []struct{ brand, model string }{
		{"Toyota", "Yaris"}, {"Kia", "Rio"}, {"Renault", "Clio"}, {"Fiat", "Panda"},
	}
	for i, m := range models {
		api.vehicles = append(api.vehicles, fleet.Vehicle{
			ID:        fleet.RefID(fmt.Sprint(100 + i)),
			Brand:     m.brand,
			Model:     m.model,
			Matricule: fmt.Sprintf("%02d-TU-%03d", i+1, 120+i),
			Notes:     "service every 15000 km",
		})
	}
	statuses := []string{"confirmed", "pending", "maintenance", "cancelled", "confirmed", "archived"}
	day := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 23; i++ {
		start := day.Add(time.Duration(i*7) * time.Hour)
		api.bookings = append(api.bookings, fleet.Booking{
			ID:        fleet.RefID(fmt.Sprint(i + 1)),
			VehicleID: api.vehicles[(i*3)%len(api.vehicles)].ID,
			Start:     fleet.Instant{Time: start},
			End:       fleet.Instant{Time: start.Add(time.Duration(5+i*4) * time.Hour)},
			Status:    statuses[i%len(statuses)],
			Price:     "120.00",
		})
	}
	return api
}

func (a *DemoAPI) Get(ctx context.Context, path string, out any) error {
	fmt.Fprintln(a.out, "API    → GET", path)
	if a.down.Load() {
		return errors.New("connection refused")
	}
	switch {
	case path == "/get/allvehicles01":
		a.mu.Lock()
		defer a.mu.Unlock()
		return remarshal(map[string]any{"success": true, "myvehicles": a.vehicles}, out)
	case path == "/view/allusers":
		return remarshal(map[string]any{"success": true, "myusers": []fleet.User{{ID: "1", FirstName: "Demo", LastName: "Admin", RoleName: "admin", Enabled: true}}}, out)
	}
	return fmt.Errorf("no route for %s", path)
}

func (a *DemoAPI) Post(ctx context.Context, path string, body, out any) error {
	var req struct {
		Batch     int               `json:"batch"`
		BatchSize int               `json:"batch_size"`
		Where     map[string]string `json:"where"`
	}
	if err := remarshal(body, &req); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "API    → POST %s batch=%d where=%v\n", path, req.Batch, req.Where)
	if a.down.Load() {
		return errors.New("connection refused")
	}

	var match []fleet.Booking
	for _, b := range a.bookings {
		if s := req.Where["status"]; s == "" || strings.EqualFold(s, b.Status) {
			match = append(match, b)
		}
	}
	from := min((req.Batch-1)*req.BatchSize, len(match))
	to := min(from+req.BatchSize, len(match))
	return remarshal(map[string]any{"success": true, "total": len(match), "records": match[from:to]}, out)
}

func (a *DemoAPI) renameVehicle(i int, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vehicles[i].Model = model
}

func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// lockedWriter serialises writes from the foreground and from background
// refreshes that reach the DemoAPI.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// ================= DEMO =================

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through the cache and timeline behaviour against an in-memory API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.SpillBackend = config.SpillMemory
		cfg.PageSize = 6

		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		log.SetOutput(io.Discard)

		return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg, log)
	},
}

func runDemo(ctx context.Context, w io.Writer, cfg config.Config, log logrus.FieldLogger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w = &lockedWriter{w: w}

	fmt.Fprintln(w, "\n==================== SYSTEM BOOT ====================")
	fmt.Fprintln(w, "SPILL BACKEND   :", cfg.SpillBackend, "("+cfg.SpillQuota.String()+")")
	fmt.Fprintln(w, "TTL             :", cfg.CacheTTL)
	fmt.Fprintln(w, "STALE AFTER     :", cfg.CacheTTL/time.Duration(cfg.StaleDivisor))
	fmt.Fprintln(w, "PAGE SIZE       :", cfg.PageSize)
	fmt.Fprintln(w, "EVICTION POLICY :", cfg.Eviction)

	api := NewDemoAPI(w)
	s, err := session.Open(ctx, cfg, api, log)
	if err != nil {
		return err
	}
	defer s.Close()

	// ====================================================
	fmt.Fprintln(w, "\n==================== 1) COLD LOAD ====================")
	printState(w, s.Agenda.Load(ctx))
	s.Engine.Refresh.Wait()

	// ====================================================
	fmt.Fprintln(w, "\n==================== 2) REGISTRY LANDS ====================")
	printState(w, s.Agenda.State())

	// ====================================================
	fmt.Fprintln(w, "\n==================== 3) FILTER CHANGE ====================")
	printState(w, s.Agenda.SetFilter(ctx, fleet.Filter{Status: "pending"}))

	// ====================================================
	fmt.Fprintln(w, "\n==================== 4) BACK TO ALL (NO NETWORK) ====================")
	printState(w, s.Agenda.SetFilter(ctx, fleet.Filter{}))

	// ====================================================
	fmt.Fprintln(w, "\n==================== 5) PAGING ====================")
	printState(w, s.Agenda.SetPage(ctx, 4))
	fmt.Fprintln(w, "AGENDA → page 9 requested")
	printState(w, s.Agenda.SetPage(ctx, 9))

	// ====================================================
	fmt.Fprintln(w, "\n==================== 6) TITLE SEARCH ====================")
	printState(w, s.Agenda.SetFilter(ctx, fleet.Filter{Search: "kia"}))

	// ====================================================
	fmt.Fprintln(w, "\n==================== 7) API DOWN ====================")
	api.down.Store(true)
	printState(w, s.Agenda.Refresh(ctx))
	api.down.Store(false)

	// ====================================================
	fmt.Fprintln(w, "\n==================== 8) FORCED REFRESH ====================")
	api.renameVehicle(1, "Picanto")
	if _, err := s.Registry.Get(ctx, true); err != nil {
		return err
	}
	printState(w, s.Agenda.State())

	// ====================================================
	fmt.Fprintln(w, "\n==================== 9) DASHBOARD ====================")
	d, users, err := s.Dashboard(ctx, fleet.UserFilter{Search: "demo"})
	if err != nil {
		return err
	}
	printDashboard(w, d, users)

	// ====================================================
	printMetrics(w, s.Metrics)

	// ====================================================
	fmt.Fprintln(w, "\n==================== LOGOUT ====================")
	failed := s.Logout(ctx)
	fmt.Fprintf(w, "SYSTEM → caches cleared, %d snapshot removals failed\n", len(failed))
	return nil
}
