package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joncooperworks/capscan/descriptor"
	"github.com/joncooperworks/capscan/menu"
	"github.com/joncooperworks/capscan/plugin"
	"github.com/joncooperworks/capscan/registry"
)

type implementation struct {
	Contract string            `json:"contract" yaml:"contract"`
	Type     string            `json:"type" yaml:"type"`
	Display  string            `json:"display" yaml:"display"`
	Module   descriptor.Module `json:"module" yaml:"module"`
}

type failure struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
	Error  string `json:"error" yaml:"error"`
}

type listing struct {
	Implementations []implementation `json:"implementations" yaml:"implementations"`
	Failures        []failure        `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func collect[T any](out []implementation, ds []registry.Descriptor[T]) []implementation {
	for _, d := range ds {
		out = append(out, implementation{
			Contract: d.Contract,
			Type:     d.TypeName,
			Display:  d.DisplayName,
			Module:   d.Module,
		})
	}
	return out
}

func buildListing(snap *registry.Snapshot) listing {
	l := listing{Implementations: []implementation{}}
	l.Implementations = collect(l.Implementations, registry.Select(snap, plugin.PluginOneContract))
	l.Implementations = collect(l.Implementations, registry.Select(snap, plugin.PluginTwoContract))
	for _, f := range snap.Failures() {
		l.Failures = append(l.Failures, failure{Path: f.Path, Reason: f.Reason, Error: f.Err.Error()})
	}
	return l
}

// entries returns the menu entries of both contracts, PluginOne first.
func entries(snap *registry.Snapshot) []menu.Entry {
	out := menu.Build(registry.Select(snap, plugin.PluginOneContract), pluginOneAction)
	return append(out, menu.Build(registry.Select(snap, plugin.PluginTwoContract), pluginTwoAction)...)
}

func writeListing(w io.Writer, l listing, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(l); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONTRACT\tNAME\tMODULE\tTYPE\tSOURCE\tPATH")
		for _, impl := range l.Implementations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				impl.Contract, impl.Display, impl.Module.Name, impl.Type, impl.Module.Source, impl.Module.Path)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, f := range l.Failures {
			fmt.Fprintf(w, "skipped %s (%s): %s\n", f.Path, f.Reason, f.Error)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered plugin implementations",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")

		r, err := newRegistry(nil)
		if err != nil {
			return err
		}
		defer r.Close(cmd.Context())

		snap, err := discover(cmd.Context(), r)
		if err != nil {
			return err
		}
		return writeListing(cmd.OutOrStdout(), buildListing(snap), format)
	},
}

func init() {
	listCmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
}
