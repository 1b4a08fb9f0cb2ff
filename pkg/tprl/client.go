package tprl

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/casualjim/shuttle/pkg/slogx"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

// HostPortFromEnv returns TEMPORAL_ADDRESS or the SDK default host:port.
func HostPortFromEnv() string {
	if s := os.Getenv("TEMPORAL_ADDRESS"); s != "" {
		return s
	}
	return client.DefaultHostPort
}

// NewClient creates a lazily connecting temporal client. An empty hostPort falls
// back to HostPortFromEnv and an empty namespace to the default namespace.
func NewClient(hostPort, namespace string) (client.Client, error) {
	lg := slog.Default().With(slogx.LoggerName("shuttle.temporal"))
	if hostPort == "" {
		hostPort = HostPortFromEnv()
	}

	cl, err := client.NewLazyClient(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    log.NewStructuredLogger(lg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return cl, nil
}
