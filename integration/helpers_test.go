//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hoardlabs/hoard"
	"github.com/hoardlabs/hoard/azureblob"
)

// Azurite's well-known development account.
const (
	devAccount = "devstoreaccount1"
	devKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// --- Azurite Container Setup ---

var (
	azuriteOnce sync.Once
	azuriteCS   string
	azuriteErr  error
)

// getAzurite returns the shared Azurite connection string, starting the
// container if needed. The container is shared across all tests for
// performance.
func getAzurite(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	azuriteOnce.Do(func() {
		ctx := context.Background()
		azuriteCS, azuriteErr = startAzuriteContainer(ctx)
	})

	if azuriteErr != nil {
		tb.Fatalf("start azurite container: %v", azuriteErr)
	}

	return azuriteCS
}

// startAzuriteContainer starts an Azurite blob emulator and returns a
// connection string for its blob endpoint.
func startAzuriteContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
		Cmd:          []string{"azurite-blob", "--blobHost", "0.0.0.0", "--loose"},
		ExposedPorts: []string{"10000/tcp"},
		WaitingFor:   wait.ForListeningPort("10000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start azurite container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve azurite host: %w", err)
	}

	port, err := container.MappedPort(ctx, "10000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve azurite port: %w", err)
	}

	return fmt.Sprintf(
		"DefaultEndpointsProtocol=http;AccountName=%s;AccountKey=%s;BlobEndpoint=http://%s:%s/%s",
		devAccount, devKey, host, port.Port(), devAccount,
	), nil
}

// --- Store Factory ---

// newTestStore builds a store over fresh containers. The prefix keeps the
// containers of parallel tests apart; the realm isolates objects further.
func newTestStore(tb testing.TB, prefix string, opts ...hoard.Option) *hoard.BlobStore {
	tb.Helper()

	cs := getAzurite(tb)
	cfg, err := azureblob.ParseConnectionString(cs)
	require.NoError(tb, err, "parse connection string")

	cfg.PersistentContainer = prefix + "-persistent"
	cfg.StagingContainer = prefix + "-staging"
	cfg.ArchiveContainer = prefix + "-archive"
	createContainers(tb, cs, cfg.PersistentContainer, cfg.StagingContainer, cfg.ArchiveContainer)

	containers, err := azureblob.NewContainers(cfg)
	require.NoError(tb, err, "build containers")

	allOpts := append([]hoard.Option{hoard.WithStagingGrace(0)}, opts...)
	s := hoard.NewStore(containers, "tenant1", allOpts...)
	tb.Cleanup(s.Flush)
	return s
}

// createContainers creates blob containers, tolerating ones that already
// exist.
func createContainers(tb testing.TB, cs string, names ...string) {
	tb.Helper()

	client, err := azblob.NewClientFromConnectionString(cs, nil)
	require.NoError(tb, err, "service client")

	for _, name := range names {
		_, err := client.CreateContainer(context.Background(), name, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			tb.Fatalf("create container %q: %v", name, err)
		}
	}
}

// --- Test Data Helpers ---

// makeCompressibleContent creates content that benefits from compression.
func makeCompressibleContent(size int) []byte {
	pattern := []byte("This is a repeating pattern for compression testing. ")
	result := make([]byte, 0, size+len(pattern))
	for len(result) < size {
		result = append(result, pattern...)
	}
	return result[:size]
}

// writeBlob stores content and returns the commit result.
func writeBlob(tb testing.TB, s hoard.Store, content []byte) hoard.CommitResult {
	tb.Helper()
	w := s.StartWriting(context.Background())
	_, err := w.Write(content)
	require.NoError(tb, err, "Write")
	res, err := w.Commit(context.Background())
	require.NoError(tb, err, "Commit")
	return res
}

// readBlob reads an object back wholesale.
func readBlob(tb testing.TB, ref hoard.BlobRef) []byte {
	tb.Helper()
	rs, err := ref.Open(context.Background())
	require.NoError(tb, err, "Open")
	defer rs.Close()
	data, err := io.ReadAll(rs)
	require.NoError(tb, err, "read")
	return data
}
