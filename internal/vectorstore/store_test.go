package vectorstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
	"github.com/segmentcore/segmentcore/internal/vectorstore"
)

func TestChunkStore_PushAndGet(t *testing.T) {
	cs, err := vectorstore.OpenChunkStore(t.TempDir(), 4, 0)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	off, err := cs.Push([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), off)

	got, err := cs.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got)
}

func TestChunkStore_Push_WrongDimension_ReturnsArgumentsError(t *testing.T) {
	cs, err := vectorstore.OpenChunkStore(t.TempDir(), 4, 0)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	_, err = cs.Push([]float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, segerrors.IsKind(err, "ARGUMENTS"))
}

func TestChunkStore_Get_OutOfRange_ReturnsError(t *testing.T) {
	cs, err := vectorstore.OpenChunkStore(t.TempDir(), 4, 0)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	_, err = cs.Get(0)
	require.Error(t, err)
}

func TestChunkStore_InsertAt_RefusesSparseHole(t *testing.T) {
	cs, err := vectorstore.OpenChunkStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	err = cs.InsertAt(5, []float32{1, 2})
	require.Error(t, err)
}

func TestChunkStore_InsertAt_OverwritesLiveSlot(t *testing.T) {
	cs, err := vectorstore.OpenChunkStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	_, err = cs.Push([]float32{1, 1})
	require.NoError(t, err)

	require.NoError(t, cs.InsertAt(0, []float32{9, 9}))

	got, err := cs.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9}, got)
}

func TestChunkStore_GrowsAcrossPages(t *testing.T) {
	// chunkSizeBytes small enough to force multiple pages for dim=4 (16 bytes/vector).
	cs, err := vectorstore.OpenChunkStore(t.TempDir(), 4, 64) // 4 vectors per page
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	for i := 0; i < 10; i++ {
		v := []float32{float32(i), float32(i), float32(i), float32(i)}
		off, err := cs.Push(v)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), off)
	}

	require.Len(t, cs.Files(), 3) // 10 vectors / 4 per page = 3 pages

	got, err := cs.Get(9)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9, 9}, got)
}

func TestAppendableStore_InsertAndDelete(t *testing.T) {
	s, err := vectorstore.OpenAppendableStore(t.TempDir(), 3, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, []float32{1, 2, 3}))
	assert.False(t, s.IsDeletedVector(0))

	prev, err := s.DeleteVector(0)
	require.NoError(t, err)
	assert.False(t, prev)
	assert.True(t, s.IsDeletedVector(0))
	assert.Equal(t, uint64(1), s.DeletedCount())
}

func TestAppendableStore_DeleteOutOfRange_ReturnsError(t *testing.T) {
	s, err := vectorstore.OpenAppendableStore(t.TempDir(), 3, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.DeleteVector(5)
	require.Error(t, err)
}

func TestAppendableStore_InsertClearsDeletionOnOverwrite(t *testing.T) {
	s, err := vectorstore.OpenAppendableStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, []float32{1, 1}))
	_, err = s.DeleteVector(0)
	require.NoError(t, err)
	require.NoError(t, s.InsertVector(0, []float32{2, 2}))

	assert.False(t, s.IsDeletedVector(0))
}

func TestAppendableStore_Flusher_FlushesVectorsBeforeDeletions(t *testing.T) {
	s, err := vectorstore.OpenAppendableStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.InsertVector(0, []float32{1, 1}))

	flush := s.Flusher()
	require.NoError(t, flush())
}

func TestAppendableStore_UpdateFrom_CopiesVectorsAndDeletionState(t *testing.T) {
	src, err := vectorstore.OpenAppendableStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	dst, err := vectorstore.OpenAppendableStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()

	require.NoError(t, src.InsertVector(0, []float32{1, 1}))
	require.NoError(t, src.InsertVector(1, []float32{2, 2}))
	_, err = src.DeleteVector(1)
	require.NoError(t, err)

	err = dst.UpdateFrom(src, []uint32{0, 1}, nil)
	require.NoError(t, err)

	got, err := dst.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, got)
	assert.True(t, dst.IsDeletedVector(1))
}

func TestAppendableStore_UpdateFrom_RespectsStoppedFlag(t *testing.T) {
	src, err := vectorstore.OpenAppendableStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	dst, err := vectorstore.OpenAppendableStore(t.TempDir(), 2, 0)
	require.NoError(t, err)
	defer func() { _ = dst.Close() }()

	require.NoError(t, src.InsertVector(0, []float32{1, 1}))

	err = dst.UpdateFrom(src, []uint32{0}, func() bool { return true })
	require.Error(t, err)
	assert.True(t, segerrors.IsCancelled(err))
}
