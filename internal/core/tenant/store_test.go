package tenant

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreResolveFallsBackToDefault(t *testing.T) {
	s := NewStore(10)
	s.Replace("acme", 42)

	require.Equal(t, 42, s.Resolve("acme"))
	require.Equal(t, 10, s.Resolve("unknown"))

	_, ok := s.Get("unknown")
	require.False(t, ok)
}

func TestStoreReplaceDoesNotMutatePreviousSnapshot(t *testing.T) {
	s := NewStore("default")
	s.Replace("a", "one")
	before := *s.snapshot.Load()

	s.Replace("a", "two")
	s.Replace("b", "three")

	require.Equal(t, "one", before["a"])
	require.NotContains(t, before, "b")
	require.Equal(t, "two", s.Resolve("a"))
}

func TestStoreReplaceAllAndDelete(t *testing.T) {
	s := NewStore(0)
	input := map[string]int{"a": 1, "b": 2}
	s.ReplaceAll(input)
	input["c"] = 3

	require.Equal(t, 2, s.Len())
	s.Delete("a")
	require.Equal(t, 0, s.Resolve("a"))
	require.Equal(t, 2, s.Resolve("b"))

	s.ReplaceAll(nil)
	require.Equal(t, 0, s.Len())
}

func TestStoreConcurrentReadersAndWriters(t *testing.T) {
	s := NewStore(-1)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Replace(fmt.Sprintf("t%d", w), i)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := s.Resolve("t0")
				if v < -1 || v >= 200 {
					t.Errorf("unexpected value %d", v)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 4, s.Len())
	require.Equal(t, 199, s.Resolve("t3"))
}
