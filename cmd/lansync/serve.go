package main

import (
	"net"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/lansync/internal/config"
	"github.com/yuya-takeyama/lansync/internal/server"
	"github.com/yuya-takeyama/lansync/internal/walker"
	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/notify"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share a directory with lansync clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v)
			if err := cfg.Validate(); err != nil {
				return err
			}

			builder, err := manifest.NewBuilder(cfg.HashCache,
				manifest.WithFs(afero.NewOsFs()),
				manifest.WithFilter(walker.Filter{Excludes: cfg.Excludes}),
			)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Config{
				Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
				Root:        cfg.Dir,
				Builder:     builder,
				ChunkSize:   cfg.ChunkSize,
				IdleTimeout: cfg.IdleTimeout,
				Notifier:    &notify.SlogNotifier{},
			})
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringP("dir", "d", ".", "Directory to share")
	flags.String("host", "", "Address to listen on (default: all interfaces)")
	flags.IntP("port", "p", config.DefaultPort, "Port to listen on")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.Int("hash-cache", 0, "Number of file hashes to cache between manifest builds (0 disables)")
	flags.Int("chunk-size", config.DefaultChunkSize, "Bytes per data frame (4096-8192)")
	flags.Duration("idle-timeout", 0, "Close sessions idle for this long (0 waits forever)")

	return cmd
}
