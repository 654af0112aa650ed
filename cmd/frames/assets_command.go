package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"frames/internal/assets"
	"frames/internal/config"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect the asset catalog",
	}
	assetsCmd.AddCommand(newAssetsListCommand(ctx))
	return assetsCmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(func(_ *config.Config, catalog *assets.Store) error {
				list, err := catalog.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No assets")
					return nil
				}

				rows := make([][]string, 0, len(list))
				for _, asset := range list {
					duration := ""
					if asset.DurationSeconds > 0 {
						duration = fmt.Sprintf("%ds", asset.DurationSeconds)
					}
					rows = append(rows, []string{
						asset.Key,
						asset.FileName,
						statusLabel(string(asset.Status)),
						asset.Resolution,
						duration,
						humanize.Time(asset.CreatedAt),
					})
				}
				table := renderTable(
					[]string{"Key", "File", "Status", "Resolution", "Duration", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}
