package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
)

// OccurrenceStatus labels an occurrence for display.
type OccurrenceStatus string

const (
	OccurrenceScheduled OccurrenceStatus = "scheduled"
	OccurrenceCompleted OccurrenceStatus = "completed"
	OccurrenceOverdue   OccurrenceStatus = "overdue"
)

// Occurrence is a display-ready instance of a time event.
type Occurrence struct {
	ID        string           `json:"id"`
	EventID   string           `json:"eventId"`
	TaskID    uint             `json:"taskId"`
	Title     string           `json:"title"`
	Category  string           `json:"category,omitempty"`
	StartsAt  time.Time        `json:"startsAt"`
	EndsAt    time.Time        `json:"endsAt"`
	Status    OccurrenceStatus `json:"status"`
	Recurring bool             `json:"recurring"`
	Projected bool             `json:"projected"`
}

// OccurrenceService turns stored events into occurrences for calendar views.
type OccurrenceService struct {
	store *repository.Store
	loc   *time.Location
	now   Clock
	log   *zap.SugaredLogger
}

func NewOccurrenceService(store *repository.Store, loc *time.Location, clock Clock, log *zap.SugaredLogger) *OccurrenceService {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &OccurrenceService{store: store, loc: loc, now: clock, log: log}
}

// List returns the user's occurrences intersecting [from, to), sorted by start.
// Recurring events are expanded on the service location's calendar; every
// occurrence but the stored one is Projected.
func (s *OccurrenceService) List(ctx context.Context, userID uint, from, to time.Time) ([]Occurrence, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: window must end after it starts", ErrInvalidSchedule)
	}
	events, titles, categories, err := s.load(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]Occurrence, 0, len(events))
	for _, ev := range events {
		task := titles[ev.EntityID]
		base := Occurrence{
			EventID:   ev.ID,
			TaskID:    ev.EntityID,
			Title:     task.Title,
			Recurring: ev.IsRecurring(),
		}
		if task.CategoryID != nil {
			base.Category = categories[*task.CategoryID]
		}

		spec, err := ev.RecurrenceSpec()
		if err != nil {
			s.log.Warnw("ignoring unreadable recurrence", "eventID", ev.ID, "error", err)
			spec = nil
		}
		if spec == nil {
			if ev.StartsAt.Before(to) && ev.End().After(from) {
				out = append(out, s.occurrence(base, ev, ev.StartsAt, now))
			}
			continue
		}

		starts, err := recurrence.Expand(*spec, ev.StartsAt.In(s.loc), eventDuration(ev), from, to)
		if err != nil {
			return nil, err
		}
		for _, st := range starts {
			out = append(out, s.occurrence(base, ev, st, now))
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *OccurrenceService) occurrence(base Occurrence, ev model.TimeEvent, start, now time.Time) Occurrence {
	occ := base
	occ.StartsAt = start.In(s.loc)
	occ.EndsAt = start.Add(eventDuration(ev)).In(s.loc)
	occ.Projected = !start.Equal(ev.StartsAt)
	if occ.Projected {
		occ.ID = ev.ID + "-" + start.UTC().Format(time.RFC3339)
	} else {
		occ.ID = ev.ID
	}

	switch {
	case !occ.Projected && ev.Status == model.StatusCompleted:
		occ.Status = OccurrenceCompleted
	case occ.EndsAt.Before(now):
		occ.Status = OccurrenceOverdue
	default:
		occ.Status = OccurrenceScheduled
	}
	return occ
}

func (s *OccurrenceService) load(ctx context.Context, userID uint, from, to time.Time) ([]model.TimeEvent, map[uint]model.Task, map[uint]string, error) {
	stored, err := s.store.Events.ListForWindow(ctx, userID, from, to)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make([]model.TimeEvent, 0, len(stored))
	ids := make([]uint, 0, len(stored))
	for _, ev := range stored {
		if ev.EntityType != model.EntityTask {
			continue
		}
		events = append(events, ev)
		ids = append(ids, ev.EntityID)
	}

	tasks, err := s.store.Tasks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, nil, nil, err
	}
	categories, err := s.store.Categories.NamesByUser(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	return events, tasks, categories, nil
}

// ExportICS writes the user's events in [from, to) as an iCalendar document.
// Recurring events are written once with an RRULE instead of being expanded.
func (s *OccurrenceService) ExportICS(ctx context.Context, w io.Writer, userID uint, from, to time.Time) error {
	if !from.Before(to) {
		return fmt.Errorf("%w: window must end after it starts", ErrInvalidSchedule)
	}
	events, tasks, categories, err := s.load(ctx, userID, from, to)
	if err != nil {
		return err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//timeplanner//EN")

	stamp := s.now().UTC()
	for _, ev := range events {
		vevent := ical.NewEvent()
		vevent.Props.SetText(ical.PropUID, ev.ID+"@timeplanner")
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.StartsAt.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, ev.StartsAt.Add(eventDuration(ev)).UTC())

		task := tasks[ev.EntityID]
		title := task.Title
		if title == "" {
			title = fmt.Sprintf("Task #%d", ev.EntityID)
		}
		vevent.Props.SetText(ical.PropSummary, title)
		if task.Description != "" {
			vevent.Props.SetText(ical.PropDescription, task.Description)
		}
		if task.CategoryID != nil {
			if name := categories[*task.CategoryID]; name != "" {
				vevent.Props.SetText(ical.PropCategories, name)
			}
		}
		vevent.Props.SetText(ical.PropStatus, "CONFIRMED")

		spec, err := ev.RecurrenceSpec()
		if err != nil {
			s.log.Warnw("exporting event without recurrence", "eventID", ev.ID, "error", err)
		} else if spec != nil {
			rule := ical.NewProp(ical.PropRecurrenceRule)
			rule.SetValueType(ical.ValueRecurrence)
			rule.Value = spec.RRule()
			vevent.Props.Set(rule)
		}

		cal.Children = append(cal.Children, vevent.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
