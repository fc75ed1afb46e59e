package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timeplanner/internal/model"
	"timeplanner/internal/recurrence"
	"timeplanner/internal/repository"
	"timeplanner/internal/service"
)

// Events is the reconciler surface used by the handlers.
type Events interface {
	ScheduleTask(ctx context.Context, req service.ScheduleRequest) (*model.TimeEvent, error)
	Unschedule(ctx context.Context, userID, taskID uint) error
	FindConflicts(ctx context.Context, candidate model.TimeEvent) ([]model.TimeEvent, error)
	CompleteEvent(ctx context.Context, userID uint, eventID string) (*model.TimeEvent, error)
	RescheduleEvent(ctx context.Context, userID uint, eventID string, newStart time.Time, newTime string) (*model.TimeEvent, error)
	SyncRecurrence(ctx context.Context, userID, taskID uint) (*model.TimeEvent, error)
}

type Sweeper interface {
	Run(ctx context.Context, opts service.SweepOptions) (service.SweepResult, error)
}

type Sessions interface {
	StartSession(ctx context.Context, userID uint, client string) (service.SessionResult, error)
}

type Calendar interface {
	List(ctx context.Context, userID uint, from, to time.Time) ([]service.Occurrence, error)
	ExportICS(ctx context.Context, w io.Writer, userID uint, from, to time.Time) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	Events   Events
	Sweeper  Sweeper
	Sessions Sessions
	Calendar Calendar
	Store    Pinger
	Location *time.Location
	Log      *zap.SugaredLogger
}

const defaultWindow = 7 * 24 * time.Hour

func (h *Handlers) health(c *gin.Context) {
	if h.Store != nil {
		if err := h.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// processRecurring is the batch entry point: one sweep across users, or one
// user when ?userId= is given.
func (h *Handlers) processRecurring(c *gin.Context) {
	var opts service.SweepOptions
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
			return
		}
		opts.UserID = uint(id)
	}

	res, err := h.Sweeper.Run(c.Request.Context(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) startSession(c *gin.Context) {
	res, err := h.Sessions.StartSession(c.Request.Context(), userID(c), c.Query("client"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type scheduleBody struct {
	Date            string `json:"date" binding:"required"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"durationMinutes"`
	IsRecurring     bool   `json:"isRecurring"`
}

func (h *Handlers) scheduleTask(c *gin.Context) {
	taskID, ok := h.pathID(c)
	if !ok {
		return
	}
	var body scheduleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ev, err := h.Events.ScheduleTask(ctx, service.ScheduleRequest{
		UserID:          userID(c),
		TaskID:          taskID,
		Date:            body.Date,
		Time:            body.Time,
		DurationMinutes: body.DurationMinutes,
		IsRecurring:     body.IsRecurring,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	conflicts, err := h.Events.FindConflicts(ctx, *ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev, "conflicts": conflicts})
}

func (h *Handlers) unscheduleTask(c *gin.Context) {
	taskID, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.Events.Unschedule(c.Request.Context(), userID(c), taskID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) syncRecurrence(c *gin.Context) {
	taskID, ok := h.pathID(c)
	if !ok {
		return
	}
	ev, err := h.Events.SyncRecurrence(c.Request.Context(), userID(c), taskID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}

func (h *Handlers) completeEvent(c *gin.Context) {
	ev, err := h.Events.CompleteEvent(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

type rescheduleBody struct {
	StartsAt *time.Time `json:"startsAt"`
	Date     string     `json:"date"`
	Time     string     `json:"time"`
}

func (h *Handlers) rescheduleEvent(c *gin.Context) {
	var body rescheduleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var start time.Time
	switch {
	case body.StartsAt != nil:
		start = *body.StartsAt
	case body.Date != "" && body.Time != "":
		day, err := time.ParseInLocation("2006-01-02", body.Date, h.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
			return
		}
		start = day
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "startsAt or date and time are required"})
		return
	}

	ev, err := h.Events.RescheduleEvent(c.Request.Context(), userID(c), c.Param("id"), start, body.Time)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

type conflictBody struct {
	ID       string    `json:"id"`
	StartsAt time.Time `json:"startsAt" binding:"required"`
	EndsAt   time.Time `json:"endsAt" binding:"required"`
}

func (h *Handlers) checkConflicts(c *gin.Context) {
	var body conflictBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end := body.EndsAt
	conflicts, err := h.Events.FindConflicts(c.Request.Context(), model.TimeEvent{
		ID:       body.ID,
		UserID:   userID(c),
		StartsAt: body.StartsAt,
		EndsAt:   &end,
		Status:   model.StatusScheduled,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

func (h *Handlers) listOccurrences(c *gin.Context) {
	from, to, ok := h.window(c)
	if !ok {
		return
	}
	occs, err := h.Calendar.List(c.Request.Context(), userID(c), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"occurrences": occs})
}

func (h *Handlers) exportCalendar(c *gin.Context) {
	from, to, ok := h.window(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.Calendar.ExportICS(c.Request.Context(), &buf, userID(c), from, to); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="timeplanner.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

func (h *Handlers) pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// window reads ?from=&to= as dates or RFC 3339 instants. It defaults to the
// week starting today.
func (h *Handlers) window(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().In(h.Location)
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, h.Location)
	if raw := c.Query("from"); raw != "" {
		t, err := h.parseInstant(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	to := from.Add(defaultWindow)
	if raw := c.Query("to"); raw != "" {
		t, err := h.parseInstant(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handlers) parseInstant(raw string) (time.Time, error) {
	if strings.Contains(raw, "T") {
		return time.Parse(time.RFC3339, raw)
	}
	return time.ParseInLocation("2006-01-02", raw, h.Location)
}

// fail maps service errors onto HTTP status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidSchedule),
		errors.Is(err, recurrence.ErrInvalidRecurrenceKind),
		errors.Is(err, recurrence.ErrInvalidInterval),
		errors.Is(err, recurrence.ErrInvalidWeekday):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.Log.Errorw("request failed", "requestID", c.GetString(ctxRequestID), "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
