package sync

import (
	"time"
)

// SyncState is the state of the most recent sync of an account.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// MarshalText encodes the state by name.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SyncStatus is the sync state of a single account.
type SyncStatus struct {
	AccountID string    `json:"account_id"`
	State     SyncState `json:"state"`
	LastSync  time.Time `json:"last_sync,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// setStatus records the state of accountID. A successful sync also moves
// LastSync forward.
func (c *Cache) setStatus(accountID string, state SyncState, err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.statuses[accountID]
	if !ok {
		status = &SyncStatus{AccountID: accountID}
		c.statuses[accountID] = status
	}
	status.State = state
	status.Error = ""
	if err != nil {
		status.Error = err.Error()
	}
	if state == SyncIdle && err == nil && !at.IsZero() {
		status.LastSync = at
	}
}

func (c *Cache) status(accountID string) (SyncStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.statuses[accountID]
	if !ok {
		return SyncStatus{AccountID: accountID}, false
	}
	return *s, true
}

// Forget drops the in-memory status of a deleted account.
func (c *Cache) Forget(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, accountID)
}
