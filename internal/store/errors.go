package store

import "errors"

var (
	ErrQueueNotFound      = errors.New("queue not found")
	ErrDepartmentNotFound = errors.New("department not found")
	ErrCitizenNotFound    = errors.New("citizen not found")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrQueueNotActive     = errors.New("queue not active")
	ErrQueueFull          = errors.New("queue full")
	ErrDuplicateTicket    = errors.New("citizen already holds a waiting ticket for this queue today")
	ErrInvalidTransition  = errors.New("invalid ticket transition")
	ErrCodeExists         = errors.New("ticket code already exists")
	ErrConflict           = errors.New("ticket code conflict")
	ErrNoTicket           = errors.New("no ticket available")
	ErrInvalidPriority    = errors.New("invalid ticket priority")
)
