package database

import "time"

// Credential is the durable login artifact for one Zalo account: opaque
// JSON from the bridge holding the device identity and cookie jar. The blob
// is fernet-encrypted before it reaches this row.
type Credential struct {
	AccountID string    `gorm:"primaryKey;size:32" json:"account_id"`
	Blob      string    `gorm:"not null" json:"-"`
	Phone     string    `gorm:"index" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Proxy is one entry of the durable outbound proxy list. Position preserves
// insertion order, which is the allocation scan order.
type Proxy struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	URL      string `gorm:"uniqueIndex;not null" json:"url"`
	Position int    `gorm:"not null;default:0" json:"position"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
