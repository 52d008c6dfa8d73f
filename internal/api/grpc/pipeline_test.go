package grpc

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/internal/pipeline"
	"github.com/vibewatch/vibewatch/internal/storage"
	"github.com/vibewatch/vibewatch/pkg/types"
)

var fixtureFiles = map[types.Source]string{
	types.SourceActivity:    "activity_tracker_dataset.csv",
	types.SourceLeave:       "leave_dataset.csv",
	types.SourceOnboarding:  "onboarding_dataset.csv",
	types.SourcePerformance: "performance_dataset.csv",
	types.SourceRewards:     "rewards_dataset.csv",
	types.SourceMood:        "vibemeter_dataset.csv",
}

func startServer(t *testing.T) (*Client, *pipeline.Runner) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewLocalStorage(filepath.Join(dir, "storage"))
	require.NoError(t, err)
	catalog, err := manifest.NewCatalog(filepath.Join(dir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	runner, err := pipeline.NewRunner(pipeline.Options{
		Storage: store,
		Catalog: catalog,
		Logger:  zap.NewNop(),
		Config: config.PipelineConfig{
			WorkDir:          filepath.Join(dir, "work"),
			ReuseFingerprint: true,
		},
	})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterPipelineServer(srv, NewServer(runner, zap.NewNop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), runner
}

func saveFixtureDataset(t *testing.T, runner *pipeline.Runner) string {
	t.Helper()
	open := func(src types.Source) (io.ReadCloser, error) {
		return os.Open(filepath.Join("..", "..", "features", "testdata", fixtureFiles[src]))
	}
	id, err := pipeline.SaveDataset(context.Background(), runner.Storage(), runner.WorkDir(), open)
	require.NoError(t, err)
	return id
}

func TestServer_RunAndLatest(t *testing.T) {
	client, runner := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	id := saveFixtureDataset(t, runner)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", "req-42")

	out, err := client.Run(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, "req-42", out.Fields["request_id"].GetStringValue())
	assert.False(t, out.Fields["reused"].GetBoolValue())

	run := out.Fields["run"].GetStructValue().GetFields()
	runID := run["run_id"].GetStringValue()
	require.NotEmpty(t, runID)
	assert.Equal(t, manifest.StatusSucceeded, run["status"].GetStringValue())
	assert.Equal(t, float64(5), run["employee_count"].GetNumberValue())
	assert.Equal(t, id, run["dataset_id"].GetStringValue())

	anomalies := out.Fields["anomalies"].GetListValue().GetValues()
	assert.Len(t, anomalies, int(run["flagged_count"].GetNumberValue()))

	latest, err := client.Latest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, runID, latest.Fields["run"].GetStructValue().Fields["run_id"].GetStringValue())

	byID, err := client.Latest(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, byID.Fields["run"].GetStructValue().Fields["run_id"].GetStringValue())

	again, err := client.Run(ctx, id, false)
	require.NoError(t, err)
	assert.True(t, again.Fields["reused"].GetBoolValue())
}

func TestServer_Errors(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	_, err := client.Run(ctx, "", false)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Run(ctx, "missing", false)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Latest(ctx, "")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Latest(ctx, "nope")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

type runOnlyServer struct {
	UnimplementedPipelineServer
}

func TestUnimplementedPipelineServer(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterPipelineServer(srv, runOnlyServer{})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = NewClient(conn).Latest(context.Background(), "")
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
