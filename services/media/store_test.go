package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefRoundTrip(t *testing.T) {
	ref := Ref("evidence", "actions/u1/a1.jpg")
	require.Equal(t, "minio://evidence/actions/u1/a1.jpg", ref)

	bucket, key, ok := ParseRef(ref)
	require.True(t, ok)
	require.Equal(t, "evidence", bucket)
	require.Equal(t, "actions/u1/a1.jpg", key)

	for _, bad := range []string{"", "s3://b/k", "minio://", "minio://bucket", "minio:///key"} {
		_, _, ok := ParseRef(bad)
		require.False(t, ok, bad)
	}
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "actions/u1/a1.mov", ObjectKey("u1", "a1", "video/quicktime"))
	require.Equal(t, "actions/u1/a1", ObjectKey("u1", "a1", "application/octet-stream"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ref, err := s.Put(ctx, "actions/u1/a1.jpg", []byte("img"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.Remove(ctx, ref))
	require.Zero(t, s.Len())
	require.Error(t, s.Remove(ctx, "nope"))
}
