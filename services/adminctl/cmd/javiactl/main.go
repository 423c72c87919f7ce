package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shreyashguptas/javia-sub000/services/adminctl"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "javiactl",
		Short:         "Utility for managing the javia device fleet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", adminctl.DefaultConfigPath(), "Path to the javiactl configuration file")

	cmd.AddCommand(newUpdatesCommand(&configPath))
	cmd.AddCommand(newDevicesCommand(&configPath))
	return cmd
}

func newUpdatesCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updates",
		Short: "Publish and inspect software updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newUpdatesCreateCommand(configPath))
	cmd.AddCommand(newUpdatesListCommand(configPath))
	cmd.AddCommand(newUpdatesStatusCommand(configPath))
	return cmd
}

func newUpdatesCreateCommand(configPath *string) *cobra.Command {
	var (
		version        string
		description    string
		policy         string
		packageFile    string
		sourceDir      string
		systemPackages []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a new update and fan out rollouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*configPath)
			if err != nil {
				return err
			}

			update, err := client.CreateUpdate(cmd.Context(), adminctl.CreateUpdateInput{
				Version:                version,
				Description:            description,
				Policy:                 policy,
				RequiresSystemPackages: len(systemPackages) > 0,
				SystemPackages:         systemPackages,
				PackagePath:            packageFile,
				SourceDir:              sourceDir,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created update %s version %s (%s, %d bytes, sha256 %s)\n",
				update.ID, update.Version, update.Policy, update.PackageSize, update.PackageSHA256)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Semantic version of the update (e.g. 1.4.0)")
	cmd.Flags().StringVar(&description, "description", "", "Human-readable release notes")
	cmd.Flags().StringVar(&policy, "policy", "scheduled", "Rollout policy: scheduled, urgent or instant")
	cmd.Flags().StringVar(&packageFile, "package", "", "Prebuilt package archive (tar.zst)")
	cmd.Flags().StringVar(&sourceDir, "dir", "", "Application directory to pack into the update")
	cmd.Flags().StringSliceVar(&systemPackages, "system-package", nil, "OS package the update depends on (repeatable)")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newUpdatesListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List published updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*configPath)
			if err != nil {
				return err
			}

			updates, err := client.ListUpdates(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tVERSION\tPOLICY\tSIZE\tCREATED")
			for _, u := range updates {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					u.ID, u.Version, u.Policy, u.PackageSize, u.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newUpdatesStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <update-id>",
		Short: "Show per-device rollout progress for an update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse update id: %w", err)
			}

			client, err := newClient(*configPath)
			if err != nil {
				return err
			}

			detail, err := client.GetUpdate(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "update %s version %s (%s)\n", detail.Update.ID, detail.Update.Version, detail.Update.Policy)
			if detail.Update.Description != "" {
				fmt.Fprintf(out, "  %s\n", detail.Update.Description)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tSTATUS\tSCHEDULED\tCOMPLETED\tERROR")
			for _, r := range detail.Rollouts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.DeviceID, r.Status, formatTime(r.ScheduledFor), formatTime(r.CompletedAt), r.ErrorMessage)
			}
			return tw.Flush()
		},
	}
}

func newDevicesCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect the registered fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*configPath)
			if err != nil {
				return err
			}

			devices, err := client.ListDevices(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSTATUS\tTIMEZONE\tLAST SEEN")
			for _, d := range devices {
				name := d.DisplayName
				if strings.TrimSpace(name) == "" {
					name = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, name, d.CurrentVersion, d.Status, d.Timezone, d.LastSeenAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func newClient(configPath string) (*adminctl.Client, error) {
	cfg, err := adminctl.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return adminctl.NewClient(cfg), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
