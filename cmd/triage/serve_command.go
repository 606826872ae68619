package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/photophys-triage/internal/codec"
	"github.com/danielpatrickdp/photophys-triage/internal/fixture"
)

const defaultServeAddr = "127.0.0.1:50051"

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <dataset.json>",
		Short: "Serve a dataset as a gRPC descriptor store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ds, err := fixture.Load(args[0])
			if err != nil {
				return err
			}
			store, err := ds.Store()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Remote.DescriptorAddr
			}
			if addr == "" {
				addr = defaultServeAddr
			}

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			srv := grpc.NewServer()
			codec.Register(srv, store)

			go func() {
				<-cmd.Context().Done()
				srv.GracefulStop()
			}()
			ctx.logger.Info("descriptor store serving",
				slog.String("addr", lis.Addr().String()),
				slog.Int("molecules", len(store.Keys())))
			return srv.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default remote.descriptor_addr or "+defaultServeAddr+")")
	return cmd
}
