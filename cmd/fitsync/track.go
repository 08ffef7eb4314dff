package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fitsync/record"
)

// newTrackCmd creates the track command for logging quick measurements.
func newTrackCmd(configPath *string) *cobra.Command {
	trackCmd := &cobra.Command{
		Use:   "track",
		Short: "Log a measurement",
		Long: `Log a quick measurement into the local store. The entry is queued
for sync automatically.

Examples:
  fitsync track weight 82.4        # kilograms
  fitsync track water 500          # milliliters
  fitsync track sleep 7.5          # hours`,
	}

	trackCmd.AddCommand(newTrackWeightCmd(configPath))
	trackCmd.AddCommand(newTrackWaterCmd(configPath))
	trackCmd.AddCommand(newTrackSleepCmd(configPath))

	return trackCmd
}

func newTrackWeightCmd(configPath *string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "weight <kg>",
		Short: "Log a body weight entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kg, err := strconv.ParseFloat(args[0], 64)
			if err != nil || kg <= 0 {
				return fmt.Errorf("invalid weight %q", args[0])
			}
			return withApp(*configPath, func(a *app) error {
				entry := &record.WeightEntry{
					WeightKg:   kg,
					Notes:      note,
					RecordedAt: time.Now().UTC(),
				}
				if err := a.facade.Create(entry); err != nil {
					return err
				}
				fmt.Printf("Logged %.1f kg\n", kg)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	return cmd
}

func newTrackWaterCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "water <ml>",
		Short: "Log water intake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ml, err := strconv.Atoi(args[0])
			if err != nil || ml <= 0 {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			return withApp(*configPath, func(a *app) error {
				entry := &record.WaterIntake{
					AmountML:   ml,
					RecordedAt: time.Now().UTC(),
				}
				if err := a.facade.Create(entry); err != nil {
					return err
				}
				fmt.Printf("Logged %d ml\n", ml)
				return nil
			})
		},
	}
}

func newTrackSleepCmd(configPath *string) *cobra.Command {
	var quality string
	cmd := &cobra.Command{
		Use:   "sleep <hours>",
		Short: "Log a night's sleep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.ParseFloat(args[0], 64)
			if err != nil || hours <= 0 || hours > 24 {
				return fmt.Errorf("invalid duration %q", args[0])
			}
			return withApp(*configPath, func(a *app) error {
				entry := &record.SleepEntry{
					Hours:   hours,
					Quality: quality,
				}
				if err := a.facade.Create(entry); err != nil {
					return err
				}
				fmt.Printf("Logged %.1f h of sleep\n", hours)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&quality, "quality", "", "subjective quality (poor, fair, good)")
	return cmd
}

// withApp opens the app, runs fn, and closes everything afterwards.
func withApp(configPath string, fn func(*app) error) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
