package index

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/siherrmann/webgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlatIndex(t *testing.T) {
	t.Run("Valid call NewFlatIndex", func(t *testing.T) {
		idx, err := NewFlatIndex(3)
		require.NoError(t, err, "Expected NewFlatIndex to not return an error")
		assert.Equal(t, 3, idx.Dim(), "Expected dimension to be set")
		assert.Equal(t, int64(0), idx.Len(), "Expected empty index")
	})

	t.Run("Invalid call NewFlatIndex with zero dimension", func(t *testing.T) {
		_, err := NewFlatIndex(0)
		assert.Error(t, err, "Expected error for zero dimension")
	})
}

func TestFlatIndexAdd(t *testing.T) {
	t.Run("Add vectors", func(t *testing.T) {
		idx, err := NewFlatIndex(2)
		require.NoError(t, err)

		err = idx.Add([]int64{0, 1}, [][]float32{{1, 0}, {0, 1}})
		assert.NoError(t, err, "Expected Add to not return an error")
		assert.Equal(t, int64(2), idx.Len(), "Expected two entries")
	})

	t.Run("Dimension mismatch adds nothing", func(t *testing.T) {
		idx, err := NewFlatIndex(2)
		require.NoError(t, err)

		err = idx.Add([]int64{0, 1}, [][]float32{{1, 0}, {0, 1, 0}})
		assert.True(t, errors.Is(err, model.ErrDimensionMismatch), "Expected ErrDimensionMismatch")
		assert.Equal(t, int64(0), idx.Len(), "Expected no partial insert")
	})

	t.Run("Id and vector count mismatch", func(t *testing.T) {
		idx, err := NewFlatIndex(2)
		require.NoError(t, err)

		err = idx.Add([]int64{0}, [][]float32{{1, 0}, {0, 1}})
		assert.Error(t, err, "Expected error for mismatched counts")
	})
}

func TestFlatIndexSearch(t *testing.T) {
	idx, err := NewFlatIndex(2)
	require.NoError(t, err)
	err = idx.Add([]int64{0, 1, 2}, [][]float32{
		Normalize([]float32{1, 0}),
		Normalize([]float32{1, 1}),
		Normalize([]float32{0, 1}),
	})
	require.NoError(t, err)

	t.Run("Results are ordered by inner product", func(t *testing.T) {
		hits, err := idx.Search(Normalize([]float32{1, 0.1}), 3)
		require.NoError(t, err, "Expected Search to not return an error")
		require.Len(t, hits, 3, "Expected three hits")
		assert.Equal(t, int64(0), hits[0].ID, "Expected closest vector first")
		assert.Equal(t, int64(1), hits[1].ID, "Expected diagonal vector second")
		assert.Equal(t, int64(2), hits[2].ID, "Expected orthogonal vector last")
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score, "Expected descending scores")
	})

	t.Run("Truncates to k", func(t *testing.T) {
		hits, err := idx.Search([]float32{0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1, "Expected one hit")
		assert.Equal(t, int64(2), hits[0].ID, "Expected exact match")
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6, "Expected similarity of one")
	})

	t.Run("k larger than index", func(t *testing.T) {
		hits, err := idx.Search([]float32{0, 1}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 3, "Expected all entries")
	})

	t.Run("Query dimension mismatch", func(t *testing.T) {
		_, err := idx.Search([]float32{1, 0, 0}, 1)
		assert.True(t, errors.Is(err, model.ErrDimensionMismatch), "Expected ErrDimensionMismatch")
	})

	t.Run("Empty index returns no hits", func(t *testing.T) {
		empty, err := NewFlatIndex(2)
		require.NoError(t, err)
		hits, err := empty.Search([]float32{1, 0}, 5)
		assert.NoError(t, err, "Expected no error on empty index")
		assert.Empty(t, hits, "Expected no hits")
	})
}

func TestNormalize(t *testing.T) {
	t.Run("Unit length", func(t *testing.T) {
		v := Normalize([]float32{3, 4})
		assert.InDelta(t, 0.6, v[0], 1e-6)
		assert.InDelta(t, 0.8, v[1], 1e-6)
		assert.InDelta(t, 1.0, math.Sqrt(float64(Dot(v, v))), 1e-6, "Expected unit norm")
	})

	t.Run("Normalization is idempotent", func(t *testing.T) {
		once := Normalize([]float32{0.3, -2, 7})
		twice := Normalize(once)
		for i := range once {
			assert.InDelta(t, once[i], twice[i], 1e-6, "Expected idempotent normalization")
		}
	})

	t.Run("Input is not modified", func(t *testing.T) {
		in := []float32{3, 4}
		Normalize(in)
		assert.Equal(t, []float32{3, 4}, in, "Expected input to stay unchanged")
	})

	t.Run("Zero vector stays zero", func(t *testing.T) {
		assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}), "Expected zero vector")
	})
}

func TestFlatIndexSaveLoad(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "vectors.index")

		idx, err := NewFlatIndex(2)
		require.NoError(t, err)
		require.NoError(t, idx.Add([]int64{0, 1}, [][]float32{{1, 0}, {0, 1}}))
		require.NoError(t, idx.Save(path), "Expected Save to not return an error")

		loaded, err := Load(path)
		require.NoError(t, err, "Expected Load to not return an error")
		assert.Equal(t, int64(2), loaded.Len(), "Expected both entries")
		assert.Equal(t, 2, loaded.Dim(), "Expected dimension to be restored")

		hits, err := loaded.Search([]float32{0, 1}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), hits[0].ID, "Expected restored vectors")
	})

	t.Run("Save overwrites the previous snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors.index")

		idx, err := NewFlatIndex(2)
		require.NoError(t, err)
		require.NoError(t, idx.Add([]int64{0}, [][]float32{{1, 0}}))
		require.NoError(t, idx.Save(path))
		require.NoError(t, idx.Add([]int64{1}, [][]float32{{0, 1}}))
		require.NoError(t, idx.Save(path))

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Len(), "Expected latest snapshot")

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "Expected no leftover temp files")
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.index"))
		assert.True(t, errors.Is(err, os.ErrNotExist), "Expected os.ErrNotExist")
	})

	t.Run("Corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corrupt.index")
		require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0600))

		_, err := Load(path)
		assert.Error(t, err, "Expected error for corrupt snapshot")
	})
}
