package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/joncooperworks/capscan/menu"
)

var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Create a plugin by display name and run its primary action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		r, err := newRegistry(nil)
		if err != nil {
			return err
		}
		defer r.Close(ctx)

		snap, err := discover(ctx, r)
		if err != nil {
			return err
		}

		all := entries(snap)
		entry, ok := menu.Find(all, args[0])
		if !ok {
			return fmt.Errorf("no plugin named %q (available: %s)", args[0], strings.Join(menu.Labels(all), ", "))
		}
		return entry.Activate(ctx)
	},
}

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Pick a plugin interactively and run it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		r, err := newRegistry(nil)
		if err != nil {
			return err
		}
		defer r.Close(ctx)

		snap, err := discover(ctx, r)
		if err != nil {
			return err
		}

		all := entries(snap)
		if len(all) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No plugins found in %s\n", cfg.PluginsDir)
			return nil
		}

		options := make([]huh.Option[int], 0, len(all))
		for i, e := range all {
			options = append(options, huh.NewOption(fmt.Sprintf("%s [%s]", e.Label, e.Source), i))
		}

		var selection int
		err = huh.NewSelect[int]().
			Title("Plugins").
			Description(fmt.Sprintf("%d implementations found in %s", len(all), cfg.PluginsDir)).
			Options(options...).
			Value(&selection).
			Run()
		if err != nil {
			return err
		}

		// Errors from one plugin are reported without ending the session.
		if err := all[selection].Activate(ctx); err != nil {
			logger.WithError(err).WithField("plugin", all[selection].Label).Error("plugin failed")
		}
		return nil
	},
}
