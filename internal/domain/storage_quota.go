package domain

import "time"

const (
	// BytesPerGB is the divisor used for every GB figure exposed by the quota system.
	BytesPerGB int64 = 1024 * 1024 * 1024

	// UnlimitedGB is reported in place of real figures for administrative bypass users.
	UnlimitedGB float64 = 1e9
)

// StorageQuota is the per-user quota record. TotalQuotaGB is derived and must always
// equal BaseAllowanceGB + PurchasedUnits*unitSizeGB.
type StorageQuota struct {
	ID               int64      `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	BaseAllowanceGB  int64      `json:"base_allowance_gb" db:"base_allowance_gb"`
	PurchasedUnits   int64      `json:"purchased_units" db:"purchased_units"`
	TotalQuotaGB     int64      `json:"total_quota_gb" db:"total_quota_gb"`
	UsedBytes        int64      `json:"used_bytes" db:"used_bytes"`
	LastCalculatedAt *time.Time `json:"last_calculated_at,omitempty" db:"last_calculated_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// TotalQuotaFor returns the derived quota for a base allowance and a number of add-on units.
func TotalQuotaFor(baseAllowanceGB, purchasedUnits, unitSizeGB int64) int64 {
	return baseAllowanceGB + purchasedUnits*unitSizeGB
}

// Consistent reports whether the derived total matches the base allowance and units.
func (q *StorageQuota) Consistent(unitSizeGB int64) bool {
	return q.PurchasedUnits >= 0 && q.TotalQuotaGB == TotalQuotaFor(q.BaseAllowanceGB, q.PurchasedUnits, unitSizeGB)
}

// QuotaInfo is the display view of a user's quota.
type QuotaInfo struct {
	TotalSpaceGB     float64    `json:"total_space_gb"`
	UsedSpaceGB      float64    `json:"used_space_gb"`
	AvailableSpaceGB float64    `json:"available_space_gb"`
	UsagePercent     float64    `json:"usage_percent"`
	NearLimit        bool       `json:"near_limit"`
	PurchasedUnits   int64      `json:"purchased_units"`
	TotalFiles       int64      `json:"total_files"`
	CalculatedAt     *time.Time `json:"calculated_at,omitempty"`
}

// Decision is the outcome of an upload admission check.
type Decision struct {
	Allowed          bool    `json:"allowed"`
	CurrentUsageGB   float64 `json:"current_usage_gb"`
	ProjectedUsageGB float64 `json:"projected_usage_gb"`
	QuotaGB          float64 `json:"quota_gb"`
	RemainingGB      float64 `json:"remaining_gb"`
	NearLimit        bool    `json:"near_limit"`
	AdminBypass      bool    `json:"admin_bypass"`
}

// BytesToGB converts a byte count to GB.
func BytesToGB(b int64) float64 {
	return float64(b) / float64(BytesPerGB)
}
