package testminio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	AccessKey = "minioadmin"
	SecretKey = "minioadmin"
)

type MinioContainer struct {
	Container testcontainers.Container
	Endpoint  string
}

// SetupMinio starts a throwaway MinIO server for one test.
func SetupMinio(t *testing.T) *MinioContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping MinIO integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     AccessKey,
				"MINIO_ROOT_PASSWORD": SecretKey,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return &MinioContainer{
		Container: container,
		Endpoint:  "http://" + host + ":" + port.Port(),
	}
}
