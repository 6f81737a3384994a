package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/lansync/internal/config"
	"github.com/yuya-takeyama/lansync/internal/walker"
	"github.com/yuya-takeyama/lansync/pkg/manifest"
)

func newManifestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the manifest a server would send for a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v)

			builder, err := manifest.NewBuilder(0,
				manifest.WithFs(afero.NewOsFs()),
				manifest.WithFilter(walker.Filter{Excludes: cfg.Excludes, Includes: cfg.Includes}),
			)
			if err != nil {
				return err
			}
			m, err := builder.Build(cfg.Dir)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("dir", "d", ".", "Directory to describe")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.StringSlice("include", nil, "Include patterns (multiple allowed)")

	return cmd
}
