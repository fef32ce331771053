package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/krisalay/fleet-agenda-cache/config"
	"github.com/krisalay/fleet-agenda-cache/fleet"
	"github.com/krisalay/fleet-agenda-cache/session"
	"github.com/krisalay/fleet-agenda-cache/transport"
	"github.com/spf13/cobra"
)

var (
	usersSearch  string
	usersRole    string
	usersEnabled string
)

func init() {
	dashboardCmd.Flags().StringVarP(&usersSearch, "search", "s", "", "Only users whose name, email or username contains this")
	dashboardCmd.Flags().StringVar(&usersRole, "role", "", "Only users with this role")
	dashboardCmd.Flags().StringVar(&usersEnabled, "enabled", "", "Only enabled (1) or disabled (0) users")
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print fleet and user totals, then the users matching the filters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := fleet.UserFilter{Search: usersSearch, Role: usersRole}
		if usersEnabled != "" {
			on, err := strconv.ParseBool(usersEnabled)
			if err != nil {
				return fmt.Errorf("--enabled: %w", err)
			}
			filter.Enabled = &on
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := config.NewLogger(cfg.LogLevel)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		client := transport.NewClient(cfg.APIBaseURL, transport.NewStaticToken(cfg.APIToken), cfg.RequestTimeout, nil, log)
		s, err := session.Open(ctx, cfg, client, log)
		if err != nil {
			return err
		}
		defer s.Close()

		d, users, err := s.Dashboard(ctx, filter)
		if err != nil {
			if transport.IsUnauthorized(err) {
				return fmt.Errorf("not signed in, set FLEET_API_TOKEN: %w", err)
			}
			return err
		}
		printDashboard(cmd.OutOrStdout(), d, users)
		return nil
	},
}

func printDashboard(w io.Writer, d fleet.Dashboard, users []fleet.User) {
	fmt.Fprintf(w, "USERS    → %d total, %d new this month, %d admin, %d regular\n",
		d.TotalUsers, d.NewUsers, d.AdminUsers, d.RegularUsers)
	fmt.Fprintf(w, "VEHICLES → %d total, %d active (%d%%), %d inactive, %d drivers\n",
		d.TotalVehicles, d.ActiveVehicles, d.ActiveShare(), d.InactiveVehicles, d.ActiveDrivers)

	fmt.Fprintln(w, "RECENT")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, u := range d.RecentUsers {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", u.ID, u.FullName(), joined(u.CreatedAt))
	}
	tw.Flush()

	fmt.Fprintf(w, "MATCHING (%d)\n", len(users))
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, u := range users {
		state := "inactive"
		if u.Enabled {
			state = "active"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", u.ID, u.FullName(), u.Email, u.RoleName, state)
	}
	tw.Flush()
}

func joined(createdAt string) string {
	at, ok := fleet.ParseInstant(createdAt)
	if !ok {
		return "-"
	}
	return humanize.RelTime(at.Time, time.Now(), "ago", "from now")
}
