package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ragworks/raggo/internal/marketplace"
)

func newPluginsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Search, install, and manage marketplace plugins",
	}

	cmd.AddCommand(newPluginsSearchCmd(flags))
	cmd.AddCommand(newPluginsInstallCmd(flags))
	cmd.AddCommand(newPluginsListCmd(flags))
	cmd.AddCommand(newPluginsUninstallCmd(flags))
	return cmd
}

// newMarketplaceClient wires a client from the environment. RAGGO_HOME
// overrides the cache root (plugins land under <home>/plugins/<id>);
// RAGGO_API_KEY authorizes writes.
func newMarketplaceClient(flags *rootFlags) (*marketplace.Client, error) {
	home := os.Getenv("RAGGO_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".raggo")
	}

	return marketplace.NewClient(marketplace.ClientOptions{
		BaseURL:    os.Getenv("RAGGO_MARKETPLACE_URL"),
		APIKey:     os.Getenv("RAGGO_API_KEY"),
		InstallDir: home,
	}), nil
}

func newPluginsSearchCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the plugin marketplace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newMarketplaceClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Search(cmd.Context(), marketplace.SearchQuery{Query: args[0], Limit: limit})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tRATING\tDOWNLOADS\tDESCRIPTION")
			for _, p := range result.Results {
				fmt.Fprintf(w, "%s\t%s\t%.1f\t%d\t%s\n", p.ID, p.Version, p.Rating, p.Downloads, truncate(p.Description, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func newPluginsInstallCmd(flags *rootFlags) *cobra.Command {
	var version string
	var requireCertified bool

	cmd := &cobra.Command{
		Use:   "install <plugin-id>",
		Short: "Install a plugin from the marketplace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newMarketplaceClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			installed, err := client.Install(cmd.Context(), args[0], marketplace.InstallOptions{
				Version:          version,
				RequireCertified: requireCertified,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "installed %s@%s to %s\n", installed.ID, installed.Version, installed.InstallPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version to install (default latest)")
	cmd.Flags().BoolVar(&requireCertified, "require-certified", false, "Refuse plugins without marketplace certification")
	return cmd
}

func newPluginsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locally installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newMarketplaceClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			plugins, err := client.Installed()
			if err != nil {
				return err
			}
			if len(plugins) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plugins installed")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tINSTALLED")
			for _, p := range plugins {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Version, p.InstalledAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func newPluginsUninstallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <plugin-id>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newMarketplaceClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
			return nil
		},
	}
}
