package badges

import "time"

// Snapshot holds the counters shown on navigation badges. It is a derived
// read model and may lag behind the workflow tables.
type Snapshot struct {
	PendingRequisitions int64     `json:"pending_requisitions"`
	PendingBorrows      int64     `json:"pending_borrows"`
	OverdueBorrows      int64     `json:"overdue_borrows"`
	PendingReturns      int64     `json:"pending_returns"`
	UnreadNotifications int64     `json:"unread_notifications"`
	ComputedAt          time.Time `json:"computed_at"`
}
