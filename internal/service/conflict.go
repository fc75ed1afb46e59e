package service

import "timeplanner/internal/model"

// CheckConflicts returns the events in existing that overlap candidate.
// Intervals are half-open: an event ending at 10:00 does not conflict with one
// starting at 10:00. Events of other users, cancelled events and the
// candidate's own record are ignored. The result is never nil.
func CheckConflicts(candidate model.TimeEvent, existing []model.TimeEvent) []model.TimeEvent {
	out := make([]model.TimeEvent, 0)
	start, end := candidate.StartsAt, candidate.End()
	for _, ev := range existing {
		if candidate.ID != "" && ev.ID == candidate.ID {
			continue
		}
		if candidate.EntityID != 0 && ev.EntityType == candidate.EntityType && ev.EntityID == candidate.EntityID {
			continue
		}
		if ev.UserID != candidate.UserID || ev.Status == model.StatusCancelled {
			continue
		}
		if ev.StartsAt.Before(end) && start.Before(ev.End()) {
			out = append(out, ev)
		}
	}
	return out
}
