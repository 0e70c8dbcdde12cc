package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zjrosen/diagwire/internal/config"
	"github.com/zjrosen/diagwire/internal/logentry"
	"github.com/zjrosen/diagwire/internal/router"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show and edit keyword routing rules",
	Long: `Show the effective keyword routing table, or edit the router overrides
file. A running console reloads the overrides file when it changes.

Example:
  diagwire routes list
  diagwire routes add qdrant SubsystemEvent
  diagwire routes remove qdrant`,
}

var routesFile string

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective routing table in match order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rules, err := effectiveRules(cfg, overridesPath())
		if err != nil {
			return err
		}
		return printRules(cmd.OutOrStdout(), rules)
	},
}

var routesAddCmd = &cobra.Command{
	Use:   "add <keyword> <category>",
	Short: "Add or replace a rule in the overrides file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := overridesPath()
		if path == "" {
			return fmt.Errorf("no overrides file: set router.overrides_file or pass --file")
		}
		category, err := logentry.ParseCategory(args[1])
		if err != nil {
			return err
		}
		if err := config.SaveRouteOverride(path, router.Rule{Keyword: args[0], Category: category}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s → %s (%s)\n", args[0], category, path)
		return nil
	},
}

var routesRemoveCmd = &cobra.Command{
	Use:   "remove <keyword>",
	Short: "Remove a rule from the overrides file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := overridesPath()
		if path == "" {
			return fmt.Errorf("no overrides file: set router.overrides_file or pass --file")
		}
		removed, err := config.RemoveRouteOverride(path, args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no rule for %q in %s", args[0], path)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", args[0], path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.AddCommand(routesListCmd, routesAddCmd, routesRemoveCmd)
	routesCmd.PersistentFlags().StringVarP(&routesFile, "file", "f", "", "overrides file (default: router.overrides_file)")
}

func overridesPath() string {
	if routesFile != "" {
		return config.ExpandHome(routesFile)
	}
	return cfg.Router.OverridesFile
}

// effectiveRules layers config overrides and then the overrides file, when
// it exists, over the default table.
func effectiveRules(c config.Config, file string) ([]router.Rule, error) {
	overrides, err := c.RouterRules()
	if err != nil {
		return nil, fmt.Errorf("router.overrides: %w", err)
	}
	if file != "" {
		fileRules, err := router.LoadOverrides(file)
		switch {
		case err == nil:
			overrides = append(overrides, fileRules...)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}
	return router.New(overrides...).Rules(), nil
}

func printRules(w io.Writer, rules []router.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYWORD\tCATEGORY")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\n", r.Keyword, r.Category)
	}
	return tw.Flush()
}
