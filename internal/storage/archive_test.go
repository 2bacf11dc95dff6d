package storage_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiedmann/zlogger/internal/storage"
)

const testBucket = "zlogger-test"

// testArchive connects to a test MinIO instance. It skips the test when
// S3_ENDPOINT is not set so the default test run stays offline.
func testArchive(t *testing.T) *storage.Archive {
	t.Helper()

	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_ENDPOINT not set, skipping integration test")
	}
	accessKey := os.Getenv("S3_ACCESS_KEY")
	if accessKey == "" {
		t.Skip("S3_ACCESS_KEY not set, skipping integration test")
	}
	secretKey := os.Getenv("S3_SECRET_KEY")
	if secretKey == "" {
		t.Skip("S3_SECRET_KEY not set, skipping integration test")
	}

	a, err := storage.New(context.Background(), storage.Config{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    testBucket,
		Prefix:    "obs1",
	})
	if err != nil {
		t.Fatalf("connect archive: %v", err)
	}
	return a
}

func TestArchivePutAndFetch(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "zlogger.log.2026-03-01")
	require.NoError(t, os.WriteFile(local, []byte("{\"K\":\"POS\"}\n"), 0o644))

	key, err := a.Put(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, "obs1/zlogger.log.2026-03-01", key)
	t.Cleanup(func() { _ = a.Remove(ctx, key) })

	var buf bytes.Buffer
	require.NoError(t, a.Fetch(ctx, key, &buf))
	assert.Equal(t, "{\"K\":\"POS\"}\n", buf.String())

	logs, err := a.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, logs)

	var found bool
	for _, l := range logs {
		if l.Key == key {
			found = true
			assert.Equal(t, int64(buf.Len()), l.Size)
			assert.WithinDuration(t, time.Now(), l.Modified, time.Minute)
		}
	}
	assert.True(t, found, "archived log missing from listing")
}

func TestArchiveRemoveMissingIsNoError(t *testing.T) {
	a := testArchive(t)
	assert.NoError(t, a.Remove(context.Background(), "obs1/never-uploaded.log"))
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, storage.Config{}.Enabled())
	assert.True(t, storage.Config{Endpoint: "localhost:9000"}.Enabled())
}
