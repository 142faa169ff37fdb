package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/storage"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Inspect saved crash dumps",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent crash dumps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDumper(cmd, func(ctx context.Context, d *diagnostics.SQLiteDumper) error {
				records, err := d.List(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, offStyle.Render("no crash dumps"))
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Description})
				}
				printTable(out, []string{"ID", "CREATED", "DESCRIPTION"}, rows)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of dumps to list")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one crash dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDumper(cmd, func(ctx context.Context, d *diagnostics.SQLiteDumper) error {
				r, err := d.Get(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, headerStyle.Render(r.Location()))
				fmt.Fprintf(out, "created: %s\n", r.CreatedAt.Local().Format(time.DateTime))
				fmt.Fprintf(out, "description: %s\n\n", r.Description)
				fmt.Fprintln(out, r.Stack)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func withDumper(cmd *cobra.Command, fn func(context.Context, *diagnostics.SQLiteDumper) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, diagnostics.NewSQLiteDumper(db))
}
