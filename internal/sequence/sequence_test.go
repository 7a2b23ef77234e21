package sequence

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/store/storetest"
)

func TestNextStartsAtOne(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	g := New(EventNumbers)

	cur, err := g.Current(ctx, st.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)

	for want := int64(1); want <= 3; want++ {
		got, err := g.Next(ctx, st.DB())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	cur, err = g.Current(ctx, st.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)
}

func TestCountersAreIndependent(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()

	a, b := New("a"), New("b")
	_, err := a.Next(ctx, st.DB())
	require.NoError(t, err)
	_, err = a.Next(ctx, st.DB())
	require.NoError(t, err)

	n, err := b.Next(ctx, st.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRollbackLeavesNoGap(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	g := New(EventNumbers)
	abort := errors.New("abort")

	err := st.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := g.Next(ctx, tx); err != nil {
			return err
		}
		return abort
	})
	require.ErrorIs(t, err, abort)

	n, err := g.Next(ctx, st.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConcurrentNextIsGapFree(t *testing.T) {
	st := storetest.Open(t)
	ctx := context.Background()
	g := New(EventNumbers)

	const n = 50
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.Next(ctx, st.DB())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, int64(i+1), v)
	}
}
