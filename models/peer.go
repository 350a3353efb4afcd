package models

// Peer represents a discovered or directly dialed remote device.
type Peer struct {
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	Address           string `json:"address"`
	Port              int    `json:"port"`
	SessionState      string `json:"session_state"`
	LastSeenTimestamp int64  `json:"last_seen_timestamp"`
}
