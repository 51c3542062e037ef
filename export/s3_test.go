package export

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/lychee-technology/eav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "exports/thing.parquet", ObjectKey("exports", "thing.parquet"))
	assert.Equal(t, "exports/thing.parquet", ObjectKey("/exports/", "thing.parquet"))
	assert.Equal(t, "thing.parquet", ObjectKey("", "thing.parquet"))
}

func TestNewUploaderRequiresBucket(t *testing.T) {
	_, err := NewUploader(context.Background(), eav.ExportConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestNewUploaderWithCustomEndpoint(t *testing.T) {
	u, err := NewUploader(context.Background(), eav.ExportConfig{
		S3Bucket:    "exports",
		S3Prefix:    "eav",
		S3Endpoint:  "http://localhost:9000",
		S3AccessKey: "minio",
		S3SecretKey: "minio",
	})
	require.NoError(t, err)
	assert.Equal(t, "exports", u.bucket)
	assert.True(t, u.client.Options().UsePathStyle)
}

func TestBucketExists(t *testing.T) {
	assert.True(t, bucketExists(&smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"}))
	assert.True(t, bucketExists(&smithy.GenericAPIError{Code: "BucketAlreadyExists"}))
	assert.False(t, bucketExists(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, bucketExists(errors.New("dial tcp: refused")))
}
