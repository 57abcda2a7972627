/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/db"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/flows"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import flow definitions from a YAML file",
	Long:  "Validate and persist flow definitions from a YAML file, running the same schedule conflict checks as the API",
	RunE:  runImport,
}

var (
	importFilePath string
	importDryRun   bool
	importForce    bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFilePath, "file", "", "Path to flow definitions YAML file (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate and conflict-check without writing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Persist conflicting flows in disabled status instead of skipping them")
	importCmd.MarkFlagRequired("file")
}

// flowFile is the on-disk import format.
type flowFile struct {
	Flows []flowDef `yaml:"flows"`
}

type flowDef struct {
	Name          string           `yaml:"name"`
	NameSecondary string           `yaml:"name_secondary"`
	TriggerType   string           `yaml:"trigger_type"`
	Priority      int              `yaml:"priority"`
	Loop          bool             `yaml:"loop"`
	Schedule      *scheduleDef     `yaml:"schedule"`
	Actions       []map[string]any `yaml:"actions"`
}

type scheduleDef struct {
	Recurrence    string `yaml:"recurrence"`
	StartDateTime string `yaml:"start_datetime"`
	EndDateTime   string `yaml:"end_datetime"`
	StartTime     string `yaml:"start_time"`
	EndTime       string `yaml:"end_time"`
	DaysOfWeek    []int  `yaml:"days_of_week"`
	DayOfMonth    int    `yaml:"day_of_month"`
	Month         int    `yaml:"month"`
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	raw, err := os.ReadFile(importFilePath)
	if err != nil {
		return fmt.Errorf("read definitions file: %w", err)
	}

	var file flowFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse definitions file: %w", err)
	}
	if len(file.Flows) == 0 {
		return fmt.Errorf("no flows in %s", importFilePath)
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	svc := flows.New(store.NewGormStore(database), conflict.NewDetector(logger), events.NewBus(), cfg.PlanningHorizon(), logger)

	var imported, skipped int
	for i, def := range file.Flows {
		draft, err := draftFromDef(def)
		if err != nil {
			return fmt.Errorf("flow %d (%q): %w", i, def.Name, err)
		}
		draft.Force = importForce

		if importDryRun {
			fmt.Printf("would import %q (%d actions)\n", draft.Name, len(draft.Actions))
			continue
		}

		flow, err := svc.Create(context.Background(), draft)
		if err != nil {
			var conflictErr *flows.ConflictError
			if errors.As(err, &conflictErr) {
				fmt.Printf("skipped %q: conflicts with %d existing occurrence(s)\n", draft.Name, len(conflictErr.Conflicts))
				skipped++
				continue
			}
			return fmt.Errorf("flow %d (%q): %w", i, def.Name, err)
		}
		fmt.Printf("imported %q as %s (status %s)\n", flow.Name, flow.ID, flow.Status)
		imported++
	}

	if !importDryRun {
		fmt.Printf("done: %d imported, %d skipped\n", imported, skipped)
	}
	return nil
}

func draftFromDef(def flowDef) (flows.Draft, error) {
	draft := flows.Draft{
		Name:          def.Name,
		NameSecondary: def.NameSecondary,
		TriggerType:   models.TriggerType(def.TriggerType),
		Priority:      def.Priority,
		Loop:          def.Loop,
	}
	if draft.TriggerType == "" {
		draft.TriggerType = models.TriggerManual
	}

	for i, rawAction := range def.Actions {
		encoded, err := json.Marshal(rawAction)
		if err != nil {
			return draft, fmt.Errorf("action %d: %w", i, err)
		}
		action, err := actions.Decode(encoded)
		if err != nil {
			return draft, fmt.Errorf("action %d: %w", i, err)
		}
		draft.Actions = append(draft.Actions, action)
	}

	if def.Schedule != nil {
		sched := &models.Schedule{
			Recurrence: models.Recurrence(def.Schedule.Recurrence),
			StartTime:  def.Schedule.StartTime,
			EndTime:    def.Schedule.EndTime,
			DaysOfWeek: def.Schedule.DaysOfWeek,
			DayOfMonth: def.Schedule.DayOfMonth,
			Month:      def.Schedule.Month,
		}
		if def.Schedule.StartDateTime != "" {
			ts, err := time.Parse(time.RFC3339, def.Schedule.StartDateTime)
			if err != nil {
				return draft, fmt.Errorf("start_datetime: %w", err)
			}
			sched.StartDateTime = &ts
		}
		if def.Schedule.EndDateTime != "" {
			ts, err := time.Parse(time.RFC3339, def.Schedule.EndDateTime)
			if err != nil {
				return draft, fmt.Errorf("end_datetime: %w", err)
			}
			sched.EndDateTime = &ts
		}
		draft.Schedule = sched
	}

	return draft, nil
}
