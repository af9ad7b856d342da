//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/mochi"
	"github.com/meigma/mochi/registry"
)

// One registry:2 container serves every test in the package.
var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns host:port of the shared registry, skipping the test
// when Docker is unavailable by request.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}
	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistry(context.Background())
	})
	if registryErr != nil {
		tb.Fatalf("registry container: %v", registryErr)
	}
	return registryAddr
}

func startRegistry(ctx context.Context) (string, error) {
	const port = "5000/tcp"
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "registry:2",
			ExposedPorts: []string{port},
			WaitingFor: wait.ForHTTP("/v2/").WithPort(port).WithStatusCodeMatcher(func(status int) bool {
				return status == 200
			}),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("start: %w", err)
	}
	endpoint, err := ctr.PortEndpoint(ctx, port, "")
	if err != nil {
		return "", fmt.Errorf("endpoint: %w", err)
	}
	return endpoint, nil
}

// newTestClient creates a client whose publisher talks plain HTTP to the
// local registry.
func newTestClient(tb testing.TB, opts ...mochi.Option) *mochi.Client {
	tb.Helper()

	all := append([]mochi.Option{
		mochi.WithDataDir(tb.TempDir()),
		mochi.WithRegistryOptions(registry.WithPlainHTTP(true), registry.WithAnonymous()),
	}, opts...)
	c, err := mochi.NewClient(all...)
	require.NoError(tb, err, "create test client")
	tb.Cleanup(func() { _ = c.Close() })
	return c
}

// testRef builds a reference under the mochi/ namespace of the registry.
func testRef(addr, repo, tag string) string {
	return fmt.Sprintf("%s/mochi/%s:%s", addr, repo, tag)
}
