package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/nidhogg/agentspawn/internal/registry"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List specialist templates",
	Long: `List the built-in specialist templates plus any found in the
configured template directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg := registry.New()
		if dir := cfg.Registry.TemplateDir; dir != "" {
			if _, err := reg.LoadDir(dir); err != nil {
				return err
			}
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tNAME\tCAPABILITIES\tTIMEOUT")
		for _, t := range reg.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Type, t.Name, strings.Join(t.Capabilities, ","), t.Timeout)
		}
		return tw.Flush()
	},
}
