// Command healthcheck exits 0 when the API's gRPC health service reports
// SERVING and 1 otherwise. It is meant for container probes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"fleetdesk.org/internal/healthcheck"
)

func main() {
	fs := pflag.NewFlagSet("healthcheck", pflag.ContinueOnError)
	addr := fs.String("addr", envOr("FLEETDESK_GRPC_ADDR", "localhost:9090"), "gRPC health address")
	service := fs.String("service", "fleetdesk-api", "service name to check (empty for the whole server)")
	timeout := fs.Duration("timeout", 3*time.Second, "probe timeout")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	client, err := healthcheck.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := healthcheck.WithTimeout(context.Background(), *timeout)
	err = client.Check(ctx, *service)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *addr, err)
		client.Close()
		os.Exit(1)
	}
	fmt.Printf("%s serving\n", *service)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
