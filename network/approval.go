package network

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lanlink/models"
	"lanlink/storage"
)

// ApprovalQueue holds first-time connections awaiting an operator
// decision. Accept and Reject are callable from any context; decisions
// persist to the device registry so pairing survives restarts. Probes
// re-enqueue freely while undecided and fail outright once rejected.
type ApprovalQueue struct {
	store  *storage.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]models.PendingApproval

	notifications chan models.PendingApproval
}

// NewApprovalQueue creates a queue backed by the device registry.
func NewApprovalQueue(store *storage.Store, logger *slog.Logger) *ApprovalQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalQueue{
		store:         store,
		logger:        logger,
		pending:       make(map[string]models.PendingApproval),
		notifications: make(chan models.PendingApproval, 16),
	}
}

// Enqueue records a device awaiting approval. Re-probing an already
// queued device keeps the original entry.
func (q *ApprovalQueue) Enqueue(id, deviceName, sourceAddr string) {
	q.mu.Lock()
	if _, exists := q.pending[id]; exists {
		q.mu.Unlock()
		return
	}

	entry := models.PendingApproval{
		ID:         id,
		DeviceName: deviceName,
		SourceAddr: sourceAddr,
		CreatedAt:  time.Now(),
	}
	q.pending[id] = entry
	q.mu.Unlock()

	q.logger.Info("device awaiting approval", "device", deviceName, "addr", sourceAddr)

	select {
	case q.notifications <- entry:
	default:
	}
}

// Notifications surfaces newly queued approvals to an operator UI. Slow
// consumers miss notifications but can always list Pending.
func (q *ApprovalQueue) Notifications() <-chan models.PendingApproval {
	return q.notifications
}

// Pending returns a snapshot of queued approvals, oldest first.
func (q *ApprovalQueue) Pending() []models.PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingApproval, 0, len(q.pending))
	for _, entry := range q.pending {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Accept approves a queued device and persists it.
func (q *ApprovalQueue) Accept(id string) error {
	entry, err := q.take(id)
	if err != nil {
		return err
	}
	return q.persistDecision(entry, storage.DeviceStatusApproved)
}

// Reject removes a queued device and records it as blocked, so its next
// probe fails outright.
func (q *ApprovalQueue) Reject(id string) error {
	entry, err := q.take(id)
	if err != nil {
		return err
	}
	return q.persistDecision(entry, storage.DeviceStatusBlocked)
}

func (q *ApprovalQueue) take(id string) (models.PendingApproval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.pending[id]
	if !ok {
		return models.PendingApproval{}, fmt.Errorf("no pending approval for %q", id)
	}
	delete(q.pending, id)
	return entry, nil
}

func (q *ApprovalQueue) persistDecision(entry models.PendingApproval, status string) error {
	existing, err := q.store.GetDevice(entry.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return q.store.SetDeviceStatus(entry.ID, status)
	}

	return q.store.AddDevice(storage.Device{
		DeviceID:      entry.ID,
		DeviceName:    entry.DeviceName,
		Status:        status,
		LastKnownAddr: entry.SourceAddr,
	})
}
