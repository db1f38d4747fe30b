package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cdcrelay/internal/transport"
)

var (
	healthAddr    string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running relay; exits non-zero unless it is serving",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()
		st, err := transport.Check(ctx, healthAddr, transport.Service)
		if err != nil {
			return fmt.Errorf("health %s: %w", healthAddr, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.String())
		if st != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("relay is %s", st)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "localhost:7070", "health server address")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 3*time.Second, "probe timeout")
}
