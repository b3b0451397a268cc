package index

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/model"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotFormatVersion = 1

// Hit is one search result of the index.
type Hit struct {
	ID    int64
	Score float32
}

// FlatIndex is an exact inner-product index over unit vectors with
// caller-assigned ids. It is not safe for concurrent use.
type FlatIndex struct {
	dim     int
	ids     []int64
	vectors []float32 // row-major, len(ids)*dim
}

// NewFlatIndex creates an empty index for vectors of length dim.
func NewFlatIndex(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, helper.NewError("new flat index", fmt.Errorf("dimension must be positive, got %d", dim))
	}
	return &FlatIndex{dim: dim}, nil
}

func (f *FlatIndex) Dim() int {
	return f.dim
}

// Len returns the number of entries. New ids are allocated from it.
func (f *FlatIndex) Len() int64 {
	return int64(len(f.ids))
}

// Add appends the vectors with their ids. Vectors must already be normalized.
// Nothing is added if any vector has the wrong dimension.
func (f *FlatIndex) Add(ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return helper.NewError("add", fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors)))
	}
	for i, v := range vectors {
		if len(v) != f.dim {
			return helper.NewError("add", fmt.Errorf("%w: vector %d has %d dimensions, index has %d", model.ErrDimensionMismatch, i, len(v), f.dim))
		}
	}

	f.ids = append(f.ids, ids...)
	for _, v := range vectors {
		f.vectors = append(f.vectors, v...)
	}
	return nil
}

// Search returns the k entries with the highest inner product with query,
// best first. Ties keep insertion order.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, helper.NewError("search", fmt.Errorf("%w: query has %d dimensions, index has %d", model.ErrDimensionMismatch, len(query), f.dim))
	}
	if k <= 0 || len(f.ids) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, len(f.ids))
	for i, id := range f.ids {
		row := f.vectors[i*f.dim : (i+1)*f.dim]
		hits[i] = Hit{ID: id, Score: Dot(query, row)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Dot returns the inner product of a and b, which must have equal length.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize returns a copy of v scaled to unit L2 length.
// The zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

type snapshot struct {
	Version int       `msgpack:"version"`
	Dim     int       `msgpack:"dim"`
	IDs     []int64   `msgpack:"ids"`
	Vectors []float32 `msgpack:"vectors"`
}

// Save writes the whole index to path. The file is replaced atomically so a
// concurrent reader never sees a partial snapshot.
func (f *FlatIndex) Save(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return helper.NewError("create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return helper.NewError("create snapshot file", err)
	}
	defer os.Remove(tmp.Name())

	err = msgpack.NewEncoder(tmp).Encode(&snapshot{
		Version: snapshotFormatVersion,
		Dim:     f.dim,
		IDs:     f.ids,
		Vectors: f.vectors,
	})
	if err != nil {
		tmp.Close()
		return helper.NewError("encode snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return helper.NewError("sync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return helper.NewError("close snapshot", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return helper.NewError("rename snapshot", err)
	}
	return nil
}

// Load reads an index written by Save. A missing file returns os.ErrNotExist.
func Load(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, helper.NewError("open snapshot", err)
	}
	defer file.Close()

	var snap snapshot
	err = msgpack.NewDecoder(file).Decode(&snap)
	if err != nil {
		return nil, helper.NewError("decode snapshot", err)
	}
	if snap.Version != snapshotFormatVersion {
		return nil, helper.NewError("snapshot version", fmt.Errorf("unsupported version %d", snap.Version))
	}
	if snap.Dim <= 0 || len(snap.Vectors) != len(snap.IDs)*snap.Dim {
		return nil, helper.NewError("snapshot layout", errors.New("vector data does not match ids and dimension"))
	}

	return &FlatIndex{
		dim:     snap.Dim,
		ids:     snap.IDs,
		vectors: snap.Vectors,
	}, nil
}
