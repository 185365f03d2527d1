package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySetGetRemove(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("u1")
	assert.False(t, ok)

	r.Set("u1", "c1")
	r.Set("u2", "c2")
	connID, ok := r.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", connID)
	assert.Equal(t, []string{"u1", "u2"}, r.UserIDs())

	r.Set("u1", "c3")
	connID, _ = r.Get("u1")
	assert.Equal(t, "c3", connID)

	r.Remove("u1")
	_, ok = r.Get("u1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemoveIfCurrent(t *testing.T) {
	r := NewRegistry()
	r.Set("u1", "c2")

	assert.False(t, r.RemoveIfCurrent("u1", "c1"))
	connID, ok := r.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)

	assert.True(t, r.RemoveIfCurrent("u1", "c2"))
	assert.False(t, r.RemoveIfCurrent("u1", "c2"))
}

func TestRegistryOwnerOf(t *testing.T) {
	r := NewRegistry()
	r.Set("u1", "c1")

	userID, ok := r.OwnerOf("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)

	r.Set("u1", "c2")
	_, ok = r.OwnerOf("c1")
	assert.False(t, ok)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			r.Set(user, fmt.Sprintf("c%d", i))
			_, _ = r.Get(user)
			_ = r.UserIDs()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}
