package testnats

import (
	"context"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	sharedMu        sync.Mutex
	sharedContainer *NATSContainer
	sharedUsers     int
)

type NATSContainer struct {
	Container testcontainers.Container
	URL       string
}

// SetupSharedNATS returns a NATS container shared by every test in the
// package. Each caller must defer Cleanup.
//
// Usage:
//
//	func TestPublisher(t *testing.T) {
//	    natsContainer := testnats.SetupSharedNATS(t)
//	    defer natsContainer.Cleanup(t)
//
//	    t.Run("Case", func(t *testing.T) {
//	        nc := natsContainer.Connect(t)
//	        // ... test
//	    })
//	}
func SetupSharedNATS(t *testing.T) *NATSContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedContainer == nil {
		ctx := context.Background()

		natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "nats:2.10-alpine",
				ExposedPorts: []string{"4222/tcp"},
				WaitingFor:   wait.ForListeningPort("4222/tcp"),
			},
			Started: true,
		})
		require.NoError(t, err)

		host, err := natsContainer.Host(ctx)
		require.NoError(t, err)

		port, err := natsContainer.MappedPort(ctx, "4222")
		require.NoError(t, err)

		sharedContainer = &NATSContainer{
			Container: natsContainer,
			URL:       "nats://" + host + ":" + port.Port(),
		}
	}

	sharedUsers++
	return sharedContainer
}

func (nc *NATSContainer) Cleanup(t *testing.T) {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	sharedUsers--
	if sharedUsers > 0 {
		return
	}

	if nc.Container != nil {
		if err := nc.Container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	sharedContainer = nil
}

// Connect opens a client connection closed automatically at the end of t.
func (nc *NATSContainer) Connect(t *testing.T) *nats.Conn {
	t.Helper()

	conn, err := nats.Connect(nc.URL)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return conn
}
