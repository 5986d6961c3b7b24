package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetStat(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	body := `{"run":"abc"}`
	require.NoError(t, store.Put(ctx, "runs", "2024/abc.json", strings.NewReader(body), int64(len(body)), "application/json"))

	rc, info, err := store.Get(ctx, "runs", "2024/abc.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.Equal(t, body, string(data))
	assert.Equal(t, int64(len(body)), info.Size)
	assert.Equal(t, "application/json", info.ContentType)
	assert.NotEmpty(t, info.ETag)

	stat, err := store.Stat(ctx, "runs", "2024/abc.json")
	require.NoError(t, err)
	assert.Equal(t, info.ETag, stat.ETag)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, _, err := store.Get(ctx, "runs", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "get", storeErr.Op)
	assert.Equal(t, "objectstore get runs/missing: object not found", err.Error())

	_, err = store.Stat(ctx, "other", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListCopyDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{"lookups/b.csv", "lookups/a.csv", "manifests/x.json"} {
		require.NoError(t, store.Put(ctx, "bucket", key, strings.NewReader(key), -1, "text/plain"))
	}

	listed, err := store.List(ctx, "bucket", "lookups/")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "lookups/a.csv", listed[0].Key)
	assert.Equal(t, "lookups/b.csv", listed[1].Key)

	require.NoError(t, store.Copy(ctx, "bucket", "lookups/a.csv", "archive", "a.csv"))
	rc, _, err := store.Get(ctx, "archive", "a.csv")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "lookups/a.csv", string(data))

	require.NoError(t, store.Delete(ctx, "bucket", "lookups/a.csv"))
	_, err = store.Stat(ctx, "bucket", "lookups/a.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Copy(ctx, "bucket", "gone", "archive", "gone"), ErrNotFound)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "memory", cfg: Config{Driver: DriverMemory, Bucket: "b"}},
		{name: "missing bucket", cfg: Config{Driver: DriverMemory}, wantErr: "bucket is required"},
		{name: "minio ok", cfg: Config{Driver: DriverMinio, Bucket: "b", Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}},
		{name: "minio scheme", cfg: Config{Driver: DriverMinio, Bucket: "b", Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "s"}, wantErr: "must not include scheme"},
		{name: "minio no key", cfg: Config{Driver: DriverMinio, Bucket: "b", Endpoint: "localhost:9000"}, wantErr: "access key is required"},
		{name: "s3 ok", cfg: Config{Driver: DriverS3, Bucket: "b", Region: "us-east-1"}},
		{name: "s3 half credentials", cfg: Config{Driver: DriverS3, Bucket: "b", Region: "us-east-1", AccessKey: "a"}, wantErr: "set together"},
		{name: "unknown driver", cfg: Config{Driver: "ftp", Bucket: "b"}, wantErr: "unknown objectstore driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CURATION_OBJECTSTORE_DRIVER", DriverMinio)
	t.Setenv("CURATION_OBJECTSTORE_ENDPOINT", "minio:9000")
	t.Setenv("CURATION_OBJECTSTORE_ACCESS_KEY", "key")
	t.Setenv("CURATION_OBJECTSTORE_SECRET_KEY", "secret")
	t.Setenv("CURATION_OBJECTSTORE_USE_SSL", "false")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DriverMinio, cfg.Driver)
	assert.Equal(t, "minio:9000", cfg.Endpoint)
	assert.False(t, cfg.UseSSL)
	assert.Equal(t, "curation-runs", cfg.Bucket)

	t.Setenv("CURATION_OBJECTSTORE_USE_SSL", "sometimes")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}

func TestNew_SelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, Config{Driver: DriverMemory, Bucket: "b"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = New(ctx, Config{Driver: DriverMinio, Bucket: "b", Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"})
	require.NoError(t, err)
	assert.IsType(t, &MinioStore{}, store)

	_, err = New(ctx, Config{Driver: "nope", Bucket: "b"})
	assert.Error(t, err)
}

func TestNewMinioStoreWithClient_RequiresClient(t *testing.T) {
	_, err := NewMinioStoreWithClient(nil)
	assert.Error(t, err)
}
