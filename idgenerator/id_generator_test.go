package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("first Id returns startValue+1", func(t *testing.T) {
		gen := NewIdGenerator(100)
		require.NotNil(t, gen)
		assert.Equal(t, uint32(101), gen.Id())
		assert.Equal(t, uint32(101), gen.Last())
	})

	t.Run("Id wraps at max uint32", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0))
		assert.Equal(t, uint32(0), gen.Id())
	})
}

func TestIdGenerator_Next(t *testing.T) {
	t.Run("ids strictly increase", func(t *testing.T) {
		gen := NewIdGenerator(0)
		prev := uint32(0)
		for i := 0; i < 10; i++ {
			id, ok := gen.Next(nil)
			require.True(t, ok)
			assert.Greater(t, id, prev)
			prev = id
		}
	})

	t.Run("zero is skipped after wrap", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0))
		id, ok := gen.Next(nil)
		require.True(t, ok)
		assert.Equal(t, uint32(1), id)
	})

	t.Run("ids in use are skipped after wrap", func(t *testing.T) {
		gen := NewIdGenerator(^uint32(0) - 1)
		live := map[uint32]bool{1: true, 2: true}

		id, ok := gen.Next(func(id uint32) bool { return live[id] })
		require.True(t, ok)
		assert.Equal(t, ^uint32(0), id)

		id, ok = gen.Next(func(id uint32) bool { return live[id] })
		require.True(t, ok)
		assert.Equal(t, uint32(3), id)
	})
}

func TestIdGenerator_concurrent(t *testing.T) {
	gen := NewIdGenerator(0)
	const n = 500
	ids := make([]uint32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			ids[idx], _ = gen.Next(nil)
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
