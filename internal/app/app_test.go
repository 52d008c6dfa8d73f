package app

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "github.com/vibewatch/vibewatch/internal/api/grpc"
	"github.com/vibewatch/vibewatch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "batch"
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestApp_StartServeStop(t *testing.T) {
	a, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	assert.Error(t, a.Start(ctx), "second start is rejected")
	require.NotEmpty(t, a.HTTPAddr())
	require.NotEmpty(t, a.GRPCAddr())
	require.NotNil(t, a.Runner())

	resp, err := http.Get("http://" + a.HTTPAddr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get("http://" + a.HTTPAddr() + "/v1/runs/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	hc, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx), "stop is idempotent")

	_, err = http.Get("http://" + a.HTTPAddr() + "/health")
	assert.Error(t, err, "listener is closed")
}

func TestApp_HTTPOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeHTTP
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	assert.NotEmpty(t, a.HTTPAddr())
	assert.Empty(t, a.GRPCAddr())
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(context.Background(), config.StorageConfig{Type: "local", Path: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewStorage(context.Background(), config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}
