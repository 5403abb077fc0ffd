package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/spotter/internal/datasource"
	"github.com/ChamsBouzaiene/spotter/internal/fitness"
)

func profileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit the profile the coach sees",
	}

	var userID string
	cmd.PersistentFlags().StringVar(&userID, "user", "local", "user id")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the profile block sent to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := fitness.OpenSQLite(cmd.Context(), a.cfg.Storage.FitnessPath)
			if err != nil {
				return err
			}
			defer svc.Close()

			text, err := datasource.NewProfileSnapshot(svc).ProfileSnapshot(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if text == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "no profile for %s\n", userID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	var p fitness.Profile
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update a profile; unset flags keep their stored value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := fitness.OpenSQLite(ctx, a.cfg.Storage.FitnessPath)
			if err != nil {
				return err
			}
			defer svc.Close()

			cur, err := svc.GetProfile(ctx, userID)
			switch {
			case errors.Is(err, fitness.ErrNotFound):
				cur = &fitness.Profile{UserID: userID}
			case err != nil:
				return err
			}

			f := cmd.Flags()
			if f.Changed("name") {
				cur.Name = p.Name
			}
			if f.Changed("age") {
				cur.AgeYears = p.AgeYears
			}
			if f.Changed("height") {
				cur.HeightCM = p.HeightCM
			}
			if f.Changed("weight") {
				cur.WeightKG = p.WeightKG
			}
			if f.Changed("level") {
				cur.ExperienceLevel = p.ExperienceLevel
			}
			if f.Changed("equipment") {
				cur.Equipment = p.Equipment
			}
			if f.Changed("injury") {
				cur.Injuries = p.Injuries
			}
			if err := svc.UpsertProfile(ctx, *cur); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), datasource.FormatProfile(cur))
			return nil
		},
	}
	set.Flags().StringVar(&p.Name, "name", "", "display name")
	set.Flags().IntVar(&p.AgeYears, "age", 0, "age in years")
	set.Flags().Float64Var(&p.HeightCM, "height", 0, "height in cm")
	set.Flags().Float64Var(&p.WeightKG, "weight", 0, "body weight in kg")
	set.Flags().StringVar(&p.ExperienceLevel, "level", "", "beginner, intermediate or advanced")
	set.Flags().StringSliceVar(&p.Equipment, "equipment", nil, "available equipment (repeatable)")
	set.Flags().StringSliceVar(&p.Injuries, "injury", nil, "injuries to work around (repeatable)")

	cmd.AddCommand(show, set)
	return cmd
}
