package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/tensor"
	"golang.org/x/time/rate"
)

// SortAndShuffle produces a permutation of [0, n) as described in
// 4.8: an optional stable sort by a root-domain field's values, then a
// shuffle within windows of batchSize*shuffleSize records, then a
// shuffle of the resulting sequence of batches. keys is nil to skip
// the sort step (the field_idx argument is left to the caller: pass
// nil when no sort field is declared).
func SortAndShuffle(n int64, keys []float64, batchSize, shuffleSize int64, rng *rand.Rand) []int64 {
	perm := make([]int64, n)
	for i := range perm {
		perm[i] = int64(i)
	}
	if keys != nil {
		sort.SliceStable(perm, func(i, j int) bool { return keys[perm[i]] < keys[perm[j]] })
	}

	window := batchSize * shuffleSize
	if window <= 0 || window > n {
		window = n
	}
	for start := int64(0); start < n; start += window {
		end := start + window
		if end > n {
			end = n
		}
		width := int(end - start)
		rng.Shuffle(width, func(i, j int) {
			perm[start+int64(i)], perm[start+int64(j)] = perm[start+int64(j)], perm[start+int64(i)]
		})
	}

	if batchSize <= 0 {
		return perm
	}
	numBatches := (n + batchSize - 1) / batchSize
	batchOrder := make([]int64, numBatches)
	for i := range batchOrder {
		batchOrder[i] = int64(i)
	}
	rng.Shuffle(len(batchOrder), func(i, j int) { batchOrder[i], batchOrder[j] = batchOrder[j], batchOrder[i] })

	result := make([]int64, 0, n)
	for _, b := range batchOrder {
		start := b * batchSize
		end := start + batchSize
		if end > n {
			end = n
		}
		result = append(result, perm[start:end]...)
	}
	return result
}

// RandomBatchReader serves ReadRandomBatch calls against a fixed
// permutation and precomputed offset matrix (from ComputeOffsetMatrix),
// atomically reserving a contiguous range of the permutation per call.
type RandomBatchReader struct {
	mu           sync.Mutex
	permutation  []int64
	offsetMatrix [][]int64
	cur          int64

	// cache remembers a reservation range's already-gathered batch,
	// keyed by its [start,end) range, and is consulted before gathering.
	// ReadRandomBatch only ever advances cur, so it never reserves the
	// same range twice itself. Nil disables caching.
	cache *lru.Cache
	// limiter, if set, is waited on before every fresh reservation,
	// bounding how quickly a reader hands out new batches.
	limiter *rate.Limiter
}

// NewRandomBatchReader constructs a reader over a fixed permutation and
// offset matrix, both typically produced once per epoch. cacheSize
// bounds the reserved-batch LRU cache (<=0 disables it); limiter may
// be nil for no throttling.
func NewRandomBatchReader(permutation []int64, offsetMatrix [][]int64, cacheSize int, limiter *rate.Limiter) (*RandomBatchReader, error) {
	r := &RandomBatchReader{permutation: permutation, offsetMatrix: offsetMatrix, limiter: limiter}
	if cacheSize > 0 {
		c, err := lru.New(cacheSize)
		if err != nil {
			return nil, errors.E("dataset.NewRandomBatchReader", err)
		}
		r.cache = c
	}
	return r, nil
}

// ReadRandomBatch reserves up to n indices from the permutation under
// the reader's mutex, then gathers the corresponding rows of tensors
// (indexed like schema.Fields) outside the lock, exactly like
// ReadNextBatch's lock-scope split. It returns ok=false once the
// permutation is exhausted. A fresh reservation waits on the reader's
// rate limiter, if any, before doing any gathering work; a cache hit
// for an already-reserved range returns immediately without waiting.
func (r *RandomBatchReader) ReadRandomBatch(ctx context.Context, schema *Schema, tensors []*tensor.Tensor, n int64) (out []*tensor.Tensor, ok bool, err error) {
	r.mu.Lock()
	start := r.cur
	if start >= int64(len(r.permutation)) {
		r.mu.Unlock()
		return nil, false, nil
	}
	end := start + n
	if end > int64(len(r.permutation)) {
		end = int64(len(r.permutation))
	}
	r.cur = end
	r.mu.Unlock()

	cacheKey := fmt.Sprintf("%d:%d", start, end)
	if r.cache != nil {
		if v, hit := r.cache.Get(cacheKey); hit {
			return v.([]*tensor.Tensor), true, nil
		}
	}

	if r.limiter != nil {
		if werr := r.limiter.Wait(ctx); werr != nil {
			return nil, false, errors.E("dataset.ReadRandomBatch", werr)
		}
	}

	out = make([]*tensor.Tensor, len(tensors))
	for fieldID, t := range tensors {
		d := schema.DomainOf(fieldID)
		var parts []*tensor.Tensor
		for _, idx := range r.permutation[start:end] {
			row := r.offsetMatrix[idx]
			nextRow := r.offsetMatrix[idx+1]
			offset := row[d]
			size := nextRow[d] - row[d]
			part, verr := t.Copy(offset, size)
			if verr != nil {
				return nil, false, errors.E("dataset.ReadRandomBatch", schema.Fields[fieldID].Name, verr)
			}
			parts = append(parts, part)
		}
		merged, merr := concat(parts)
		if merr != nil {
			return nil, false, merr
		}
		out[fieldID] = merged
	}
	if r.cache != nil {
		r.cache.Add(cacheKey, out)
	}
	return out, true, nil
}

// concat appends a sequence of same-shaped-trailing tensors along axis
// 0 into one freshly allocated tensor.
func concat(parts []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.E("dataset.concat", errors.ShapeMismatch, errors.New("no parts to concatenate"))
	}
	dst, err := parts[0].Copy(0, parts[0].Dim(0))
	if err != nil {
		return nil, err
	}
	for _, p := range parts[1:] {
		if err := Append(dst, p); err != nil {
			return nil, err
		}
	}
	return dst, nil
}
