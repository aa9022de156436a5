package store

import "qms/dispatch-service/internal/models"

const (
	ActionCall     = "call"
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionNoShow   = "no_show"
)

var transitionMap = map[string][]models.Status{
	ActionCall:     {models.StatusWaiting},
	ActionStart:    {models.StatusCalled},
	ActionComplete: {models.StatusInService},
	ActionCancel:   {models.StatusWaiting, models.StatusCalled, models.StatusInService},
	ActionNoShow:   {models.StatusCalled},
}

var transitionTarget = map[string]models.Status{
	ActionCall:     models.StatusCalled,
	ActionStart:    models.StatusInService,
	ActionComplete: models.StatusCompleted,
	ActionCancel:   models.StatusCancelled,
	ActionNoShow:   models.StatusNoShow,
}

func ValidTransition(action string, fromStatus models.Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status a ticket lands in after action.
func TargetStatus(action string) (models.Status, bool) {
	status, ok := transitionTarget[action]
	return status, ok
}
