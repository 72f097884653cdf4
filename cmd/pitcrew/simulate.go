package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aretw0/pitcrew"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/spf13/cobra"
)

// Vehicle is one entry of a simulation fleet file.
type Vehicle struct {
	ID        string         `json:"vehicle_id"`
	Telemetry map[string]any `json:"telemetry"`
}

func sampleFleet() []Vehicle {
	return []Vehicle{
		{ID: "VIN-0001", Telemetry: map[string]any{"brake_failure": true, "brake_pad_mm": 1.5, "speed": 62}},
		{ID: "VIN-0002", Telemetry: map[string]any{"battery_low": true, "battery_voltage": 11.2, "engine_temp": 98}},
		{ID: "VIN-0003", Telemetry: map[string]any{"engine_temp": 88, "oil_pressure": 40, "maintenance_due": false}},
	}
}

func readFleet(path string) ([]Vehicle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet: %w", err)
	}
	var fleet []Vehicle
	if err := json.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet %s: %w", path, err)
	}
	return fleet, nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [fleet.json]",
	Short: "Run a fleet through the baseline agents and print the outcome",
	Long: `Runs an in-process pitcrew with the built-in agents, submits one workflow
per vehicle, services every scheduled vehicle with a five-star rating and
prints where each workflow ended. Without a fleet file a small sample fleet
is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		fleet := sampleFleet()
		if len(args) == 1 {
			var err error
			if fleet, err = readFleet(args[0]); err != nil {
				return err
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Agents.Baseline = true

		sys, err := pitcrew.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pitcrew: %w", err)
		}
		ctx := cmd.Context()
		if err := sys.Start(ctx); err != nil {
			return err
		}
		defer sys.Close(ctx)

		ids := make([]string, 0, len(fleet))
		for _, vh := range fleet {
			id, err := sys.Engine.Submit(ctx, vh.ID, map[string]any{domain.KeyTelemetry: vh.Telemetry})
			if err != nil {
				return fmt.Errorf("failed to submit %s: %w", vh.ID, err)
			}
			ids = append(ids, id)
		}

		deadline, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		results := make([]domain.Workflow, 0, len(ids))
		for _, id := range ids {
			wf, err := drive(deadline, sys, id)
			if err != nil {
				return err
			}
			results = append(results, wf)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VEHICLE\tPRIORITY\tURGENCY\tSTATE\tPATH")
		for _, wf := range results {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%v\n", wf.SubjectID, wf.Priority, wf.UrgencyScore, wf.State, wf.Path())
		}
		if err := w.Flush(); err != nil {
			return err
		}

		stats, err := json.MarshalIndent(sys.Engine.Statistics(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", stats)
		return nil
	},
}

// drive waits for workflow id to settle, taking scheduled workflows through
// service and feedback.
func drive(ctx context.Context, sys *pitcrew.System, id string) (domain.Workflow, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		wf, err := sys.Engine.StatusOf(ctx, id)
		if err != nil {
			return domain.Workflow{}, err
		}
		switch wf.State {
		case domain.StateCompleted, domain.StateFailed:
			return wf, nil
		case domain.StateScheduled:
			if err := sys.Engine.MarkInService(ctx, id); err != nil {
				return wf, err
			}
		case domain.StateInService:
			if err := sys.Engine.SubmitFeedback(ctx, id, map[string]any{"rating": 5, "comment": "simulated"}); err != nil {
				return wf, err
			}
		}

		select {
		case <-ctx.Done():
			return wf, fmt.Errorf("workflow %s still %s: %w", id, wf.State, ctx.Err())
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().Duration("wait", 30*time.Second, "how long to wait for the fleet to settle")
}
