package biz

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func TestQuotaEstimate(t *testing.T) {
	q := NewQuotaTracker(0)
	assert.Equal(t, DefaultOverheadFactor, q.OverheadFactor())
	assert.Equal(t, int64(300), q.EstimateBytes(100))

	q2 := NewQuotaTracker(2.5)
	assert.Equal(t, int64(8), q2.EstimateBytes(3))
}

func TestQuotaReserveCommit(t *testing.T) {
	q := NewQuotaTracker(3)
	q.Register("s1", 1000, 0)

	r, err := q.Reserve("s1", 600)
	require.NoError(t, err)

	// 预留期间剩余空间不足
	_, err = q.Reserve("s1", 500)
	var qe *QuotaError
	require.True(t, stderrors.As(err, &qe))
	assert.Equal(t, int64(400), qe.Remaining)
	assert.True(t, stderrors.Is(err, errors.ErrQuotaExceeded))

	require.NoError(t, r.Commit(450))
	assert.Equal(t, int64(450), q.Consumed("s1"))

	st, err := q.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ReservedBytes)
	assert.InDelta(t, 45.0, st.PercentUsed, 1e-9)
	assert.Equal(t, model.QuotaOK, st.Level)

	// 重复提交与提交后回滚都是空操作
	require.NoError(t, r.Commit(450))
	r.Rollback()
	assert.Equal(t, int64(450), q.Consumed("s1"))
}

func TestQuotaRollbackReleasesReservation(t *testing.T) {
	q := NewQuotaTracker(3)
	q.Register("s1", 100, 0)

	r, err := q.Reserve("s1", 100)
	require.NoError(t, err)
	r.Rollback()
	r.Rollback()

	st, err := q.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.ConsumedBytes)
	assert.Equal(t, int64(0), st.ReservedBytes)
	assert.Error(t, r.Commit(10))

	_, err = q.Reserve("s1", 100)
	assert.NoError(t, err)
}

func TestQuotaCommitBeyondReservation(t *testing.T) {
	q := NewQuotaTracker(3)
	q.Register("s1", 100, 0)

	r, err := q.Reserve("s1", 50)
	require.NoError(t, err)
	require.NoError(t, r.Commit(80))
	assert.Equal(t, int64(80), q.Consumed("s1"))

	r2, err := q.Reserve("s1", 10)
	require.NoError(t, err)
	err = r2.Commit(30)
	assert.True(t, stderrors.Is(err, errors.ErrQuotaExceeded))
	assert.Equal(t, int64(80), q.Consumed("s1"))

	st, _ := q.Status("s1")
	assert.Equal(t, int64(0), st.ReservedBytes)
}

func TestQuotaReplacing(t *testing.T) {
	q := NewQuotaTracker(3)
	q.Register("s1", 100, 90)

	// 替换 90 字节的旧内容，新内容 95 字节可以放下
	r, err := q.Reserve("s1", 95, Replacing(90))
	require.NoError(t, err)
	require.NoError(t, r.Commit(95))
	assert.Equal(t, int64(95), q.Consumed("s1"))

	// 相同大小的替换不改变消耗
	r, err = q.Reserve("s1", 95, Replacing(95))
	require.NoError(t, err)
	require.NoError(t, r.Commit(95))
	assert.Equal(t, int64(95), q.Consumed("s1"))

	// 回滚保留旧内容的消耗
	r, err = q.Reserve("s1", 50, Replacing(95))
	require.NoError(t, err)
	r.Rollback()
	assert.Equal(t, int64(95), q.Consumed("s1"))
}

func TestQuotaConcurrentReservationsNeverOverspend(t *testing.T) {
	const (
		quota   = 10_000
		workers = 64
		size    = 300
	)
	q := NewQuotaTracker(3)
	q.Register("s1", quota, 0)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := q.Reserve("s1", size)
			if err != nil {
				assert.True(t, stderrors.Is(err, errors.ErrQuotaExceeded))
				rejected.Add(1)
				return
			}
			accepted.Add(1)
			assert.NoError(t, r.Commit(size))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(quota/size), accepted.Load())
	assert.Equal(t, int64(workers-quota/size), rejected.Load())
	assert.LessOrEqual(t, q.Consumed("s1"), int64(quota))
}

func TestQuotaReleaseAndStatus(t *testing.T) {
	q := NewQuotaTracker(3)
	q.Register("b", 100, 95)
	q.Register("a", 100, 10)

	q.Release("b", 10)
	st, err := q.Status("b")
	require.NoError(t, err)
	assert.Equal(t, int64(85), st.ConsumedBytes)
	assert.Equal(t, model.QuotaWarning, st.Level)

	q.Release("b", 1000)
	assert.Equal(t, int64(0), q.Consumed("b"))

	all := q.Statuses()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].StoreID)

	_, err = q.Status("missing")
	assert.True(t, errors.IsCode(err, errors.ErrStoreNotFound.Code))
	_, err = q.Reserve("missing", 1)
	assert.True(t, errors.IsCode(err, errors.ErrStoreNotFound.Code))

	require.NoError(t, q.SetQuota("a", 10))
	st, _ = q.Status("a")
	assert.Equal(t, model.QuotaExceeded, st.Level)

	q.Remove("a")
	assert.False(t, q.Has("a"))
}
