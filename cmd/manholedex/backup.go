package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/manholedex/internal/backupfile"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and import the whole catalog",
	}
	cmd.AddCommand(
		newBackupExportCmd(a),
		newBackupImportCmd(a),
		newBackupSecondaryCmd(a),
		newBackupListCmd(a),
	)
	return cmd
}

func newBackupExportCmd(a *app) *cobra.Command {
	var (
		secondaryFile string
		stdout        bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup document to the backup directory",
		Example: `  manholedex backup export
  manholedex backup export --secondary companion.json
  manholedex backup export --stdout > catalog.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				data []byte
				err  error
			)
			if secondaryFile != "" {
				payload, rerr := os.ReadFile(secondaryFile)
				if rerr != nil {
					return fmt.Errorf("failed to read secondary payload: %w", rerr)
				}
				data, err = a.backups.ExportWithSecondary(ctx, json.RawMessage(payload))
			} else {
				data, err = a.backups.Export(ctx)
			}
			if err != nil {
				return err
			}

			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			path, err := a.files.Save(data)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]any{"path": path, "bytes": len(data)}, func(p *printer) {
				p.line("Wrote %s (%d bytes)", path, len(data))
			})
		},
	}
	cmd.Flags().StringVar(&secondaryFile, "secondary", "", "JSON file merged into the secondary namespace")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write the document to stdout instead of the backup directory")
	return cmd
}

func newBackupImportCmd(a *app) *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "import [file.json]",
		Short: "Replace the catalog with a backup document",
		Long: `Import decodes the whole document first and then replaces every region,
item, image and setting in one step. If anything is wrong with the document
nothing is changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case latest:
				p, err := a.files.Latest()
				if err != nil {
					return err
				}
				path = p
			case len(args) == 1:
				path = args[0]
			default:
				return fmt.Errorf("give a backup file or --latest")
			}

			data, err := backupfile.Open(path)
			if err != nil {
				return err
			}
			res, err := a.backups.Import(cmd.Context(), data)
			if err != nil {
				return err
			}
			return a.print(cmd, res, func(p *printer) {
				p.line("Imported %s (format %s)", path, res.Version)
				p.row("Regions", fmt.Sprint(res.Regions))
				p.row("Items", fmt.Sprint(res.Items))
				p.row("Images", fmt.Sprint(res.Images))
				p.row("Settings", fmt.Sprint(res.Settings))
				p.row("Secondary", fmt.Sprint(res.Secondary))
				p.row("Upgraded", fmt.Sprint(res.Upgraded))
				p.flush()
			})
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "import the newest backup in the backup directory")
	return cmd
}

func newBackupSecondaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "secondary <file.json>",
		Short: "Print the secondary namespace of a backup document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := backupfile.Open(args[0])
			if err != nil {
				return err
			}
			raw, ok, err := a.backups.Secondary(data)
			if err != nil {
				return err
			}
			if !ok {
				return a.print(cmd, nil, func(p *printer) {
					p.line("No secondary data.")
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}

func newBackupListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.files.List()
			if err != nil {
				return err
			}
			return a.print(cmd, names, func(p *printer) {
				if len(names) == 0 {
					p.line("No backups found.")
				}
				for _, n := range names {
					p.line("%s", n)
				}
			})
		},
	}
}
