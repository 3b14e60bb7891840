package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

const DefaultKey = "liquidation_queue"

// Store is a single-key string store. Get reports ok=false when the key was never set.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// ObligationQueue is the list of obligations the dispatcher last found liquidatable. Every Set
// replaces the whole list; readers see the latest snapshot, never a delta.
type ObligationQueue struct {
	store Store
	key   string
}

func NewObligationQueue(store Store, key string) *ObligationQueue {
	if key == "" {
		key = DefaultKey
	}
	return &ObligationQueue{store: store, key: key}
}

func (q *ObligationQueue) Set(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	value, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return errors.Wrapf(q.store.Set(ctx, q.key, string(value)), "set %s", q.key)
}

// Get returns an empty list when nothing was published yet.
func (q *ObligationQueue) Get(ctx context.Context) ([]string, error) {
	value, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", q.key)
	}
	ids := []string{}
	if !ok || value == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		return nil, errors.Wrapf(err, "decode %s", q.key)
	}
	return ids, nil
}

func (q *ObligationQueue) Close() error {
	return q.store.Close()
}
