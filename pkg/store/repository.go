package store

import (
	"context"
	"fmt"
)

// Repository is a typed view over one collection.
type Repository[T any] struct {
	db *DB
	c  Collection
}

// NewRepository binds a collection to the record type T.
func NewRepository[T any](db *DB, c Collection) *Repository[T] {
	return &Repository[T]{db: db, c: c}
}

// Collection returns the underlying collection.
func (r *Repository[T]) Collection() Collection { return r.c }

// Put upserts v under key.
func (r *Repository[T]) Put(ctx context.Context, key any, v T) error {
	return r.db.Put(ctx, r.c, key, &v)
}

// Add inserts v and returns the assigned key.
func (r *Repository[T]) Add(ctx context.Context, v *T) (int64, error) {
	return r.db.Add(ctx, r.c, v)
}

// Get returns the record under key.
func (r *Repository[T]) Get(ctx context.Context, key any) (T, error) {
	var v T
	if err := r.db.Get(ctx, r.c, key, &v); err != nil {
		return v, err
	}
	return v, nil
}

// All returns every record in key order. Auto-increment keys are assigned to
// records that carry an ID.
func (r *Repository[T]) All(ctx context.Context) ([]T, error) {
	records, err := r.db.GetAll(ctx, r.c)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := rec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %s %v: %w", r.c.Name, rec.Key, err)
		}
		if id, ok := rec.Key.(int64); ok {
			setID(&v, id)
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes the record under key.
func (r *Repository[T]) Delete(ctx context.Context, key any) error {
	return r.db.Delete(ctx, r.c, key)
}

// Clear removes every record.
func (r *Repository[T]) Clear(ctx context.Context) error {
	return r.db.Clear(ctx, r.c)
}

// Count returns the number of records.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	return r.db.Count(ctx, r.c)
}
