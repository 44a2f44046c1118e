package biz

import (
	"math"
	"sort"
	"sync"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// DefaultOverheadFactor 向量与索引开销相对原文字节数的倍数。
const DefaultOverheadFactor = 3.0

// QuotaTracker 按知识库跟踪已分配配额、已消耗字节与预留字节。
//
// 预留与提交分两阶段进行：Reserve 在同一把锁内完成检查与预留，
// 因此并发预留不会超出配额；失败的索引任务回滚预留而不是提交。
type QuotaTracker struct {
	mu       sync.Mutex
	overhead float64
	accounts map[string]*quotaAccount
}

type quotaAccount struct {
	quota    int64
	consumed int64
	reserved int64
}

func (a *quotaAccount) remaining(replacing int64) int64 {
	return a.quota - (a.consumed - replacing) - a.reserved
}

// NewQuotaTracker 创建配额跟踪器，overhead <= 0 时使用 DefaultOverheadFactor。
func NewQuotaTracker(overhead float64) *QuotaTracker {
	if overhead <= 0 {
		overhead = DefaultOverheadFactor
	}
	return &QuotaTracker{
		overhead: overhead,
		accounts: make(map[string]*quotaAccount),
	}
}

// OverheadFactor 返回开销倍数。
func (q *QuotaTracker) OverheadFactor() float64 {
	return q.overhead
}

// EstimateBytes 估算原文 rawBytes 字节入库后的存储占用。
func (q *QuotaTracker) EstimateBytes(rawBytes int) int64 {
	return int64(math.Ceil(float64(rawBytes) * q.overhead))
}

// Register 登记知识库的配额与已消耗字节，已存在时覆盖两者并保留进行中的预留。
func (q *QuotaTracker) Register(storeID string, quota, consumed int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if acct, ok := q.accounts[storeID]; ok {
		acct.quota, acct.consumed = quota, consumed
		return
	}
	q.accounts[storeID] = &quotaAccount{quota: quota, consumed: consumed}
}

// Has 报告知识库是否已登记。
func (q *QuotaTracker) Has(storeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.accounts[storeID]
	return ok
}

// SetQuota 调整配额，不影响已消耗字节。
func (q *QuotaTracker) SetQuota(storeID string, quota int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	acct, ok := q.accounts[storeID]
	if !ok {
		return errors.ErrStoreNotFound.WithMessagef("store %s not found", storeID)
	}
	acct.quota = quota
	return nil
}

// Remove 删除知识库的配额账户。
func (q *QuotaTracker) Remove(storeID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.accounts, storeID)
}

// ReserveOption 预留选项。
type ReserveOption func(*Reservation)

// Replacing 声明本次预留将替换已消耗的 bytes 字节（重建索引），
// 检查配额时先扣除这部分，提交时一并释放。
func Replacing(bytes int64) ReserveOption {
	return func(r *Reservation) {
		r.replacing = bytes
	}
}

// Reserve 原子地检查并预留 bytes 字节，consumed + reserved + bytes > quota 时返回 *QuotaError。
func (q *QuotaTracker) Reserve(storeID string, bytes int64, opts ...ReserveOption) (*Reservation, error) {
	if bytes < 0 {
		return nil, errors.ErrRAGInvalidRequest.WithMessagef("negative reservation %d", bytes)
	}

	r := &Reservation{tracker: q, storeID: storeID, bytes: bytes}
	for _, opt := range opts {
		opt(r)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	acct, ok := q.accounts[storeID]
	if !ok {
		return nil, errors.ErrStoreNotFound.WithMessagef("store %s not found", storeID)
	}
	if r.replacing > acct.consumed {
		r.replacing = acct.consumed
	}
	if remaining := acct.remaining(r.replacing); bytes > remaining {
		return nil, &QuotaError{StoreID: storeID, Requested: bytes, Remaining: max(remaining, 0)}
	}

	acct.reserved += bytes
	return r, nil
}

// Release 在删除分块后归还已消耗字节。
func (q *QuotaTracker) Release(storeID string, bytes int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if acct, ok := q.accounts[storeID]; ok {
		acct.consumed = max(acct.consumed-bytes, 0)
	}
}

// Consumed 返回已消耗字节。
func (q *QuotaTracker) Consumed(storeID string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if acct, ok := q.accounts[storeID]; ok {
		return acct.consumed
	}
	return 0
}

// Status 返回知识库的配额状态。
func (q *QuotaTracker) Status(storeID string) (*model.QuotaStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	acct, ok := q.accounts[storeID]
	if !ok {
		return nil, errors.ErrStoreNotFound.WithMessagef("store %s not found", storeID)
	}
	return statusOf(storeID, acct), nil
}

// Statuses 返回所有知识库的配额状态，按 store_id 排序。
func (q *QuotaTracker) Statuses() []*model.QuotaStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.QuotaStatus, 0, len(q.accounts))
	for id, acct := range q.accounts {
		out = append(out, statusOf(id, acct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out
}

func statusOf(storeID string, acct *quotaAccount) *model.QuotaStatus {
	percent := 0.0
	switch {
	case acct.quota > 0:
		percent = math.Round(float64(acct.consumed)/float64(acct.quota)*10000) / 100
	case acct.consumed > 0:
		percent = 100
	}
	return &model.QuotaStatus{
		StoreID:       storeID,
		QuotaBytes:    acct.quota,
		ConsumedBytes: acct.consumed,
		ReservedBytes: acct.reserved,
		PercentUsed:   percent,
		Level:         model.LevelFor(percent),
	}
}

type reservationState int

const (
	reservationPending reservationState = iota
	reservationCommitted
	reservationRolledBack
)

// Reservation 一次进行中的预留，必须以 Commit 或 Rollback 结束。
type Reservation struct {
	tracker   *QuotaTracker
	storeID   string
	bytes     int64
	replacing int64
	state     reservationState
}

// Bytes 返回预留的字节数。
func (r *Reservation) Bytes() int64 {
	return r.bytes
}

// Commit 把预留转为实际消耗 actual 字节，并释放被替换的字节。
// actual 超过预留时需要额外的配额，不足则回滚整个预留并返回 *QuotaError。
// 重复提交是空操作，回滚之后再提交返回错误。
func (r *Reservation) Commit(actual int64) error {
	q := r.tracker
	q.mu.Lock()
	defer q.mu.Unlock()

	switch r.state {
	case reservationCommitted:
		return nil
	case reservationRolledBack:
		return errors.ErrInternal.WithMessagef("reservation for store %s already rolled back", r.storeID)
	}

	acct, ok := q.accounts[r.storeID]
	if !ok {
		r.state = reservationRolledBack
		return errors.ErrStoreNotFound.WithMessagef("store %s removed during indexing", r.storeID)
	}

	acct.reserved -= r.bytes
	if actual > r.bytes {
		if remaining := acct.remaining(r.replacing); actual > remaining {
			r.state = reservationRolledBack
			return &QuotaError{StoreID: r.storeID, Requested: actual, Remaining: max(remaining, 0)}
		}
	}

	acct.consumed = max(acct.consumed-r.replacing, 0) + actual
	r.state = reservationCommitted
	return nil
}

// Rollback 放弃预留。提交后调用是空操作，可直接 defer。
func (r *Reservation) Rollback() {
	q := r.tracker
	q.mu.Lock()
	defer q.mu.Unlock()

	if r.state != reservationPending {
		return
	}
	r.state = reservationRolledBack
	if acct, ok := q.accounts[r.storeID]; ok {
		acct.reserved -= r.bytes
	}
}
