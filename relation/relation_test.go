package relation_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
)

func setupObserved(t *testing.T) (*variable.V, *variable.V, *table.Table) {
	t.Helper()
	reg := variable.New()
	a, err := reg.Declare("Alpha", "A", 2)
	require.NoError(t, err)
	b, err := reg.Declare("Beta", "B", 2)
	require.NoError(t, err)

	obs, err := table.FromObservations([]*variable.V{a, b},
		[][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, []float64{10, 20, 30, 40})
	require.NoError(t, err)

	return a, b, obs
}

func TestCacheGetIsProjection(t *testing.T) {
	a, _, obs := setupObserved(t)
	cache := relation.NewCache(obs)

	r, err := cache.Get([]*variable.V{a})
	require.NoError(t, err)
	require.Equal(t, float64(100), r.Table.Total())
	require.Equal(t, float64(30), r.Table.Get(table.EncodeKey(r.Vars, []int{0})))
}

func TestCacheGetIsMemoized(t *testing.T) {
	a, b, obs := setupObserved(t)
	cache := relation.NewCache(obs)

	r1, err := cache.Get([]*variable.V{a, b})
	require.NoError(t, err)
	r2, err := cache.Get([]*variable.V{b, a})
	require.NoError(t, err)
	require.Same(t, r1, r2, "same variable set (any order) must hit the same cache entry")
}

func TestCacheConcurrentGet(t *testing.T) {
	a, b, obs := setupObserved(t)
	cache := relation.NewCache(obs)

	const n = 50
	results := make([]*relation.Relation, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			r, err := cache.Get([]*variable.V{a, b})
			require.NoError(t, err)
			results[idx] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestSubsetAndEqual(t *testing.T) {
	a, b, _ := setupObserved(t)
	require.True(t, relation.Subset([]*variable.V{a}, []*variable.V{a, b}))
	require.False(t, relation.Subset([]*variable.V{a, b}, []*variable.V{a}))
	require.True(t, relation.Equal([]*variable.V{a, b}, []*variable.V{b, a}))
}
