package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Storage_Key(t *testing.T) {
	s := NewS3StorageWithClient(nil, "hr-analytics", "/tenant-a/")

	key, err := s.key("runs/abc/anomaly_summary.csv")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a/runs/abc/anomaly_summary.csv", key)

	_, err = s.key("../outside.csv")
	assert.ErrorIs(t, err, ErrInvalidPath)

	bare := NewS3StorageWithClient(nil, "hr-analytics", "")
	key, err = bare.key("/latest/master_df.csv")
	require.NoError(t, err)
	assert.Equal(t, "latest/master_df.csv", key)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("runs/abc/master_df.csv"))
	assert.Equal(t, "application/json", contentType("runs/abc/meta.json"))
	assert.Equal(t, "application/octet-stream", contentType("runs/abc/blob"))
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), "", DefaultS3Config())
	assert.Error(t, err)
}
