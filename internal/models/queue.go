package models

type Queue struct {
	QueueID          string      `json:"queue_id"`
	DepartmentID     string      `json:"department_id"`
	Name             string      `json:"name"`
	Code             string      `json:"code"`
	CurrentQueueSize int         `json:"current_queue_size"`
	MaxQueueSize     int         `json:"max_queue_size"`
	Status           QueueStatus `json:"status"`
	// LedgerDay is the service day CurrentQueueSize counts for, as
	// YYYY-MM-DD. A queue whose ledger day has passed starts the next day
	// from zero.
	LedgerDay        string      `json:"ledger_day,omitempty"`
}

type QueueStatus string

const (
	QueueActive    QueueStatus = "active"
	QueueInactive  QueueStatus = "inactive"
	QueueSuspended QueueStatus = "suspended"
	QueueDeleted   QueueStatus = "deleted"
)

type Department struct {
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
	Code         string `json:"code"`
}

type Citizen struct {
	CitizenID string `json:"citizen_id"`
	Name      string `json:"name"`
}

// Ledger is the capacity view of a queue.
type Ledger struct {
	QueueID     string      `json:"queue_id"`
	CurrentSize int         `json:"current_size"`
	MaxSize     int         `json:"max_size"`
	Available   int         `json:"available"`
	Status      QueueStatus `json:"status"`
}
