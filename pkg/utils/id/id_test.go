package id

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestULIDMonotonic(t *testing.T) {
	g := NewULIDGenerator()
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = g.Generate()
	}

	assert.True(t, sort.StringsAreSorted(ids))
	assert.True(t, IsULID(ids[0]))
	assert.Len(t, ids[0], 26)
}

func TestUUIDUnique(t *testing.T) {
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := NewUUID()
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestValidators(t *testing.T) {
	assert.True(t, IsUUID(UUIDGenerator{}.Generate()))
	assert.False(t, IsUUID("not-a-uuid"))
	assert.False(t, IsULID("short"))
	assert.True(t, IsULID(NewULID()))
}
