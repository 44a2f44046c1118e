package model

// QuotaLevel 配额使用等级。
type QuotaLevel string

const (
	QuotaOK       QuotaLevel = "OK"
	QuotaWarning  QuotaLevel = "WARNING"
	QuotaCritical QuotaLevel = "CRITICAL"
	QuotaExceeded QuotaLevel = "EXCEEDED"
)

// 配额等级阈值（百分比）。
const (
	QuotaWarningPercent  = 70.0
	QuotaCriticalPercent = 90.0
)

// LevelFor 根据使用百分比返回配额等级。
func LevelFor(percent float64) QuotaLevel {
	switch {
	case percent >= 100:
		return QuotaExceeded
	case percent >= QuotaCriticalPercent:
		return QuotaCritical
	case percent >= QuotaWarningPercent:
		return QuotaWarning
	default:
		return QuotaOK
	}
}

// QuotaStatus 配额状态，供运维工具使用。
type QuotaStatus struct {
	StoreID       string     `json:"store_id"`
	QuotaBytes    int64      `json:"quota_bytes"`
	ConsumedBytes int64      `json:"consumed_bytes"`
	ReservedBytes int64      `json:"reserved_bytes"`
	PercentUsed   float64    `json:"percent_used"`
	Level         QuotaLevel `json:"level"`
}
