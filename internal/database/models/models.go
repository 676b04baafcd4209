package models

import "time"

// Setting is one entry of the shared key-value settings store.
type Setting struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription maps a subscription id to the phone slot that serves it.
type Subscription struct {
	ID        int64     `json:"id"`
	SubID     int64     `json:"sub_id"`
	PhoneID   int       `json:"phone_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionRecord is the history entry written when a connection is
// released.
type ConnectionRecord struct {
	ID             int64      `json:"id"`
	ConnectionID   string     `json:"connection_id"`
	PhoneID        *int       `json:"phone_id,omitempty"`
	Direction      string     `json:"direction"`
	Address        string     `json:"address"`
	StartTime      time.Time  `json:"start_time"`
	ConnectTime    *time.Time `json:"connect_time,omitempty"`
	EndTime        time.Time  `json:"end_time"`
	Duration       int        `json:"duration"`
	Cause          string     `json:"cause"`
	TelephonyCause string     `json:"telephony_cause"`
	Reason         string     `json:"reason"`
}

// Operator is an account allowed to use the control API.
type Operator struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
