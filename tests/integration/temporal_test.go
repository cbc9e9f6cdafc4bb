//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	litemporal "github.com/helixir/research-pipeline-service/internal/temporal"
)

func TestTemporalConnectivity(t *testing.T) {
	hostPort := os.Getenv("TEMPORAL_HOST_PORT")
	if hostPort == "" {
		t.Skip("TEMPORAL_HOST_PORT not set")
	}

	cfg := litemporal.ClientConfig{
		HostPort:  hostPort,
		Namespace: "default",
		TaskQueue: "research-pipeline-test",
	}
	c, err := litemporal.NewClient(cfg)
	require.NoError(t, err, "failed to connect to Temporal")

	pc := litemporal.NewPipelineClient(c, cfg)
	defer pc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pc.Health(ctx), "Temporal health check failed")
}
