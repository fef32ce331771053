package main

import (
	"context"
	"fmt"

	"github.com/krisalay/fleet-agenda-cache/config"
	"github.com/krisalay/fleet-agenda-cache/fleet"
	"github.com/krisalay/fleet-agenda-cache/orchestrator"
	"github.com/krisalay/fleet-agenda-cache/session"
	"github.com/krisalay/fleet-agenda-cache/transport"
	"github.com/spf13/cobra"
)

var (
	showPage   int
	showStatus string
	showSearch string
	showForce  bool
)

func init() {
	showCmd.Flags().IntVarP(&showPage, "page", "p", 1, "Page of bookings to show")
	showCmd.Flags().StringVar(&showStatus, "status", "", "Only bookings with this status")
	showCmd.Flags().StringVarP(&showSearch, "search", "s", "", "Only vehicles whose title contains this")
	showCmd.Flags().BoolVar(&showForce, "refresh", false, "Ignore cached data and refetch the page")
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch one page of the agenda from the API configured in FLEET_* and print it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		s.Warm()

		st := s.Agenda.SetFilter(ctx, fleet.Filter{Status: showStatus, Search: showSearch})
		if showPage != 1 {
			st = s.Agenda.SetPage(ctx, showPage)
		}
		if showForce {
			st = s.Agenda.Refresh(ctx)
		}
		if st.Phase == orchestrator.Error {
			if transport.IsUnauthorized(st.Err) {
				return fmt.Errorf("not signed in, set FLEET_API_TOKEN: %w", st.Err)
			}
			return st.Err
		}

		s.Engine.Refresh.Wait()
		printState(cmd.OutOrStdout(), s.Agenda.State())
		return nil
	},
}
