package storage

const (
	// DeviceStatusApproved marks a device the operator accepted.
	DeviceStatusApproved = "approved"
	// DeviceStatusBlocked marks a device the operator rejected.
	DeviceStatusBlocked = "blocked"
)

const (
	// ResourceKindCollection is a `{items, updatedAt}` envelope reconciled by
	// whole-collection last-write-wins.
	ResourceKindCollection = "collection"
	// ResourceKindFlat is a flat key-value document pushed and pulled wholesale.
	ResourceKindFlat = "flat"
)

// Device is a paired (or blocked) remote device record.
type Device struct {
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	Status            string `json:"status"`
	AddedTimestamp    int64  `json:"added_timestamp"`
	LastSeenTimestamp int64  `json:"last_seen_timestamp"`
	LastKnownAddr     string `json:"last_known_addr"`
}

// Resource is the local replica of one named sync resource. Document is
// the raw JSON payload; UpdatedAt is unix milliseconds, zero for flat
// resources which carry no timestamp.
type Resource struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Document  string `json:"document"`
	UpdatedAt int64  `json:"updated_at"`
}
