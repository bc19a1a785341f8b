package schedule

import (
	"fmt"

	"irrigation/pkg/apperror"
)

// Status is the lifecycle state of a weekly schedule.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var scheduleTransitions = map[Status][]Status{
	StatusDraft:    {StatusApproved, StatusCancelled},
	StatusApproved: {StatusActive, StatusCancelled},
	StatusActive:   {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the schedule can no longer change state.
func (s Status) Terminal() bool {
	return len(scheduleTransitions[s]) == 0
}

// Transition moves the schedule to the next state or fails with the
// offending current state attached.
func (s *WeeklySchedule) Transition(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return apperror.NewWithField(apperror.CodeInvalidTransition,
			fmt.Sprintf("schedule %s cannot move from %s to %s", s.ID, s.Status, next), "status")
	}
	s.Status = next
	return nil
}

// OperationStatus is the lifecycle state of a scheduled operation.
type OperationStatus string

const (
	OperationScheduled   OperationStatus = "scheduled"
	OperationInProgress  OperationStatus = "in_progress"
	OperationCompleted   OperationStatus = "completed"
	OperationFailed      OperationStatus = "failed"
	OperationCancelled   OperationStatus = "cancelled"
	OperationRescheduled OperationStatus = "rescheduled"
)

var operationTransitions = map[OperationStatus][]OperationStatus{
	OperationScheduled:   {OperationInProgress, OperationCancelled},
	OperationInProgress:  {OperationCompleted, OperationFailed},
	OperationFailed:      {OperationRescheduled},
	OperationCancelled:   {OperationRescheduled},
	OperationRescheduled: {OperationInProgress, OperationCancelled},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	for _, allowed := range operationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the operation can no longer change state.
func (s OperationStatus) Terminal() bool {
	return len(operationTransitions[s]) == 0
}

// Immutable reports whether an adaptation must leave the operation as is.
// Completed and in-progress work is never rewritten.
func (s OperationStatus) Immutable() bool {
	return s == OperationCompleted || s == OperationInProgress
}

// Transition moves the operation to the next state or fails with the
// offending current state attached.
func (o *Operation) Transition(next OperationStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return apperror.NewWithField(apperror.CodeInvalidTransition,
			fmt.Sprintf("operation %s cannot move from %s to %s", o.ID, o.Status, next), "status")
	}
	o.Status = next
	return nil
}
