// Package storetest runs the sessions.Store contract against an arbitrary
// implementation. Store packages call RunStoreTests from their own tests.
package storetest

import (
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-gateway/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a freshly loaded, empty Store for one subtest.
type Factory func(t *testing.T) sessions.Store

func record(id string) *sessions.SessionRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &sessions.SessionRecord{
		SessionID:    id,
		CreatedAt:    now,
		LastAccessed: now,
		Config:       map[string]any{"client": "storetest"},
	}
}

// RunStoreTests exercises the common Store contract.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("PutThenGet", func(t *testing.T) {
		ctx := t.Context()
		s := factory(t)

		rec := record("put-then-get")
		require.NoError(t, s.Put(ctx, rec))

		got, ok := s.Get(ctx, rec.SessionID)
		require.True(t, ok)
		assert.Equal(t, rec.SessionID, got.SessionID)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, rec.Config["client"], got.Config["client"])
	})

	t.Run("GetMissing", func(t *testing.T) {
		ctx := t.Context()
		s := factory(t)

		_, ok := s.Get(ctx, "absent")
		assert.False(t, ok)
	})

	t.Run("PutIsUpsert", func(t *testing.T) {
		ctx := t.Context()
		s := factory(t)

		rec := record("upsert")
		require.NoError(t, s.Put(ctx, rec))

		rec.LastAccessed = rec.LastAccessed.Add(time.Minute)
		require.NoError(t, s.Put(ctx, rec))

		assert.Equal(t, 1, s.Size(ctx))
		got, ok := s.Get(ctx, rec.SessionID)
		require.True(t, ok)
		assert.True(t, rec.LastAccessed.Equal(got.LastAccessed))
	})

	t.Run("DeleteRemoves", func(t *testing.T) {
		ctx := t.Context()
		s := factory(t)

		rec := record("delete-me")
		require.NoError(t, s.Put(ctx, rec))
		require.NoError(t, s.Delete(ctx, rec.SessionID))

		_, ok := s.Get(ctx, rec.SessionID)
		assert.False(t, ok)
		assert.Equal(t, 0, s.Size(ctx))

		// Deleting an absent id is a no-op.
		require.NoError(t, s.Delete(ctx, rec.SessionID))
	})

	t.Run("SizeAndAll", func(t *testing.T) {
		ctx := t.Context()
		s := factory(t)

		require.NoError(t, s.Put(ctx, record("one")))
		require.NoError(t, s.Put(ctx, record("two")))
		require.NoError(t, s.Put(ctx, record("three")))

		assert.Equal(t, 3, s.Size(ctx))

		seen := map[string]bool{}
		for _, rec := range s.All(ctx) {
			seen[rec.SessionID] = true
		}
		assert.Equal(t, map[string]bool{"one": true, "two": true, "three": true}, seen)
	})
}
