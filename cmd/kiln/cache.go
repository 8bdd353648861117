package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/output"
)

var cacheOpts struct {
	dir       string
	output    string
	noHeaders bool
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the download cache",
	Long: `Inspect the stage3 and package tree downloads kept in the cache
directory. Each download has a sidecar record with the mirror's validators,
used to skip downloads that have not changed.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(cacheOpts.output); err != nil {
			return err
		}

		dir := cacheOpts.dir
		if dir == "" {
			defaults, err := config.Defaults()
			if err != nil {
				return err
			}
			dir = defaults.Bootstrap.CacheDir
		}

		entries, err := metadata.List(dir)
		if err != nil {
			return fmt.Errorf("failed to list cache: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(cacheOpts.output),
			NoHeaders: cacheOpts.noHeaders,
		})
		if err != nil {
			return err
		}
		out, err := formatter.FormatCache(entries)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(out)
		return nil
	},
}

func init() {
	flags := cacheListCmd.Flags()
	flags.StringVar(&cacheOpts.dir, "cache-dir", "", "cache directory (default: bootstrap.cache_dir of the dist defaults)")
	flags.StringVarP(&cacheOpts.output, "output", "o", string(output.FormatTable), "output format: table, yaml or json")
	flags.BoolVar(&cacheOpts.noHeaders, "no-headers", false, "omit table headers")

	cacheCmd.AddCommand(cacheListCmd)
}
