/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/bragi_flows/internal/db"
	"github.com/friendsincode/bragi_flows/internal/dispatch"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/store"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Preview a flow's action timeline without dispatching",
	Long:  "Walk a flow's action sequence and print every emission with its offset, including looped repetitions up to the end bound",
	RunE:  runSimulate,
}

var (
	simulateFlowID   string
	simulateFilePath string
	simulateEndBound time.Duration
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simulateFlowID, "id", "", "ID of a stored flow to simulate")
	simulateCmd.Flags().StringVar(&simulateFilePath, "file", "", "Path to a flow definitions YAML file (first flow is simulated)")
	simulateCmd.Flags().DurationVar(&simulateEndBound, "end-bound", 0, "Stop a looping flow at this elapsed time (e.g. 2h30m); 0 previews a single pass")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if (simulateFlowID == "") == (simulateFilePath == "") {
		return fmt.Errorf("exactly one of --id or --file is required")
	}

	flow, err := loadSimulationFlow()
	if err != nil {
		return err
	}

	sim := dispatch.Simulate(flow, cfg.ActionDefaults(), simulateEndBound)

	fmt.Printf("flow %s: %d action(s), sequence %s", flow.Name, len(flow.Actions), sim.SequenceDuration)
	if flow.Loop {
		fmt.Printf(", looping (%.2f repetitions)", sim.Repetitions)
	}
	fmt.Println()

	for _, step := range sim.Steps {
		marker := ""
		if step.Invalid {
			marker = "  [unresolvable content, skipped at dispatch]"
		}
		fmt.Printf("%10s  rep %d  #%d  %-22s %s%s\n",
			step.Offset, step.Repetition, step.Index, step.Kind, step.Duration, marker)
	}

	fmt.Printf("total %s", sim.TotalDuration)
	if sim.Truncated {
		fmt.Printf(" (final repetition truncated at %s)", simulateEndBound)
	}
	fmt.Println()
	return nil
}

func loadSimulationFlow() (*models.Flow, error) {
	if simulateFlowID != "" {
		database, err := initDatabase()
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		defer func() { _ = db.Close(database) }()

		flow, err := store.NewGormStore(database).GetFlow(context.Background(), simulateFlowID)
		if err != nil {
			return nil, fmt.Errorf("load flow %s: %w", simulateFlowID, err)
		}
		return flow, nil
	}

	raw, err := os.ReadFile(simulateFilePath)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}
	var file flowFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse definitions file: %w", err)
	}
	if len(file.Flows) == 0 {
		return nil, fmt.Errorf("no flows in %s", simulateFilePath)
	}

	draft, err := draftFromDef(file.Flows[0])
	if err != nil {
		return nil, err
	}
	return &models.Flow{
		ID:      "preview",
		Name:    draft.Name,
		Actions: draft.Actions,
		Loop:    draft.Loop,
	}, nil
}
