package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct {
	ID string
}

func TestCursorRoundTrip(t *testing.T) {
	encoded, err := EncodeCursor(Cursor{ID: "42", Points: 120, Rank: 7, CreatedAt: "2026-01-02T03:04:05Z"})
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	require.Equal(t, "42", decoded.ID)
	require.Equal(t, int64(120), decoded.Points)
	require.Equal(t, 7, decoded.Rank)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%not-base64")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	data := []*row{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	page, info := BuildCursorPageInfo(data, 2, func(r *row) Cursor { return Cursor{ID: r.ID} })
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "b", next.ID)

	page, info = BuildCursorPageInfo(data, 5, func(r *row) Cursor { return Cursor{ID: r.ID} })
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Normalize().Limit)
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Normalize().Limit)
	require.Equal(t, 5, Pagination{Limit: 5}.Normalize().Limit)
}
