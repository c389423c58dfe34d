// Package dedup decides which record is the canonical copy of each content hash.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/franz/ordb/internal/store"
)

const stripes = 64

// Result is the outcome of classifying one hashed record
type Result struct {
	Status    store.Status // PRIMARY or DUPLICATE
	PrimaryID int64        // id of the primary record (the record itself when PRIMARY)
}

// Index assigns PRIMARY or DUPLICATE to hashed records. Decisions for the
// same content hash are serialized through striped locks.
type Index struct {
	store *store.Store
	locks [stripes]sync.Mutex
}

// New creates an index backed by the given store
func New(s *store.Store) *Index {
	return &Index{store: s}
}

func (ix *Index) lockFor(contentHash string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(contentHash))
	return &ix.locks[h.Sum32()%stripes]
}

// Classify moves a PENDING record to PRIMARY if no record holds the primary
// role for contentHash yet, otherwise to DUPLICATE linked to that primary.
func (ix *Index) Classify(ctx context.Context, id int64, contentHash string) (Result, error) {
	if contentHash == "" {
		return Result{}, fmt.Errorf("file %d: empty content hash", id)
	}

	mu := ix.lockFor(contentHash)
	mu.Lock()
	defer mu.Unlock()

	primary, err := ix.store.FindPrimaryByHash(ctx, contentHash)
	if err != nil {
		return Result{}, err
	}

	if primary != nil && primary.ID == id {
		return Result{Status: primary.Status, PrimaryID: id}, nil
	}

	if primary == nil {
		err := ix.store.Transition(ctx, id, store.StatusPending, store.StatusPrimary,
			store.TransitionFields{ContentHash: contentHash})
		if err == nil {
			return Result{Status: store.StatusPrimary, PrimaryID: id}, nil
		}
		if !errors.Is(err, store.ErrPrimaryExists) {
			return Result{}, err
		}
		// Another writer claimed the hash outside this index
		primary, err = ix.store.FindPrimaryByHash(ctx, contentHash)
		if err != nil {
			return Result{}, err
		}
		if primary == nil {
			return Result{}, fmt.Errorf("file %d: primary for %s vanished", id, contentHash)
		}
	}

	err = ix.store.Transition(ctx, id, store.StatusPending, store.StatusDuplicate,
		store.TransitionFields{ContentHash: contentHash, DuplicateOf: primary.ID})
	if err != nil {
		return Result{}, err
	}
	return Result{Status: store.StatusDuplicate, PrimaryID: primary.ID}, nil
}

// Skip marks a PENDING record as SKIPPED with a human-readable reason
func (ix *Index) Skip(ctx context.Context, id int64, reason string) error {
	return ix.store.Transition(ctx, id, store.StatusPending, store.StatusSkipped,
		store.TransitionFields{Error: reason})
}
