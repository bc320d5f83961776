package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// Scheduler owns the deferred table: enqueueing future work and draining
// it. Each due row runs in its own transaction so one bad row cannot take
// the batch down with it.
type Scheduler struct {
	env      *gamestate.Env
	dispatch *events.Dispatcher
	locks    locks.Manager
	log      *logger.Logger

	// Wired after construction to break package cycles.
	SendTemplateEmail  func(s *gamestate.Scope, u *gamestate.User, templateKey string) error
	HandleNotification func(s *gamestate.Scope, u *gamestate.User, subtype string) error
}

func New(env *gamestate.Env, dispatch *events.Dispatcher, lockMgr locks.Manager, log *logger.Logger) *Scheduler {
	return &Scheduler{
		env:      env,
		dispatch: dispatch,
		locks:    lockMgr,
		log:      log.With("component", "scheduler"),
	}
}

// RunLater enqueues a deferred action inside the caller's scope. A
// negative delay is clamped to zero with a warning so the row fires on the
// next scan instead of being silently lost in the past.
func RunLater(s *gamestate.Scope, userID uuid.UUID, typ, subtype string, delay time.Duration, payload map[string]interface{}) (*types.DeferredAction, error) {
	if delay < 0 {
		s.Log.Warn("Deferred delay is negative, clamping to zero",
			"user_id", userID, "type", typ, "subtype", subtype, "delay", delay)
		delay = 0
	}
	row := &types.DeferredAction{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    typ,
		Subtype: subtype,
		RunAt:   s.Clock.Now().Add(delay),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal deferred payload: %w", err)
		}
		row.Payload = raw
	}
	if _, err := s.Repos.Deferred.Create(s.Ctx, s.Tx, row); err != nil {
		return nil, fmt.Errorf("enqueue deferred %s/%s: %w", typ, subtype, err)
	}
	return row, nil
}

// RunOnTimer schedules a named timer callback.
func RunOnTimer(s *gamestate.Scope, userID uuid.UUID, timerName string, delay time.Duration) (*types.DeferredAction, error) {
	return RunLater(s, userID, types.DeferredTimer, timerName, delay, nil)
}

// RunMessageLater schedules delivery of a catalog message.
func RunMessageLater(s *gamestate.Scope, userID uuid.UUID, msgType string, delay time.Duration) (*types.DeferredAction, error) {
	return RunLater(s, userID, types.DeferredMessage, msgType, delay, nil)
}

// ScheduleTargetArrival enqueues the TARGET_ARRIVED row that fires the
// arrival event when the rover reaches the target.
func ScheduleTargetArrival(s *gamestate.Scope, t *gamestate.Target) (*types.DeferredAction, error) {
	u := t.User()
	delay := u.AbsTime(t.Row.ArrivalTime).Sub(s.Clock.Now())
	return RunLater(s, u.Row.ID, types.DeferredTargetArrived, t.Row.ID.String(), delay, nil)
}

// ScheduleTargetEnRoute enqueues the TARGET_EN_ROUTE row that fires when
// the rover starts driving toward the target. For a rover with no backlog
// the start is now and the row fires on the next scan.
func ScheduleTargetEnRoute(s *gamestate.Scope, t *gamestate.Target) (*types.DeferredAction, error) {
	u := t.User()
	delay := u.AbsTime(t.Row.StartTime).Sub(s.Clock.Now())
	return RunLater(s, u.Row.ID, types.DeferredTargetEnRoute, t.Row.ID.String(), delay, nil)
}

// CancelTargetArrivals removes pending TARGET_EN_ROUTE and TARGET_ARRIVED
// rows for aborted targets.
func CancelTargetArrivals(s *gamestate.Scope, userID uuid.UUID, targetIDs []uuid.UUID) error {
	subtypes := make([]string, len(targetIDs))
	for i, id := range targetIDs {
		subtypes[i] = id.String()
	}
	return s.Repos.Deferred.DeleteByTargetSubtypes(s.Ctx, s.Tx, userID, subtypes)
}

// RunDeferredSince drains every row due at or before until. The whole scan
// holds the global deferred lock, acquire-fail-fast: an overlapping scan
// gives up instead of waiting. Rows are deleted on success and retained
// with a failure mark otherwise; the scan continues past failures.
func (sch *Scheduler) RunDeferredSince(ctx context.Context, until time.Time) error {
	err := locks.WithLock(ctx, sch.locks, locks.LockRunDeferredActions, 0, func() error {
		due, err := sch.env.Repos.Deferred.ListDue(ctx, nil, until)
		if err != nil {
			return fmt.Errorf("list due deferred rows: %w", err)
		}
		for _, row := range due {
			if err := sch.runOne(ctx, row); err != nil {
				sch.log.Error("Deferred row failed, retaining for retry",
					"id", row.ID, "user_id", row.UserID, "type", row.Type, "subtype", row.Subtype, "error", err)
				if markErr := sch.env.Repos.Deferred.MarkFailed(ctx, nil, row.ID, err.Error(), sch.env.Clock.Now()); markErr != nil {
					sch.log.Error("Failed to mark deferred row", "id", row.ID, "error", markErr)
				}
			}
		}
		return nil
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		sch.log.Warn("Deferred scan already running, skipping")
		return nil
	}
	return err
}

// runOne dispatches a single deferred row in its own transaction. The row
// delete commits atomically with the row's effects.
func (sch *Scheduler) runOne(ctx context.Context, row *types.DeferredAction) error {
	return sch.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, row.UserID)
		if err != nil {
			return err
		}
		if err := sch.dispatchRow(s, u, row); err != nil {
			return err
		}
		return s.Repos.Deferred.Delete(s.Ctx, s.Tx, row.ID)
	})
}

func (sch *Scheduler) dispatchRow(s *gamestate.Scope, u *gamestate.User, row *types.DeferredAction) error {
	switch row.Type {
	case types.DeferredMessage:
		_, err := u.AddMessage(row.Subtype)
		return err
	case types.DeferredEmail:
		if sch.SendTemplateEmail == nil {
			return fmt.Errorf("no email sender wired")
		}
		return sch.SendTemplateEmail(s, u, row.Subtype)
	case types.DeferredTimer:
		return sch.dispatch.TimerArrived(u, row.Subtype)
	case types.DeferredTargetEnRoute, types.DeferredTargetArrived:
		targetID, err := uuid.Parse(row.Subtype)
		if err != nil {
			return fmt.Errorf("bad target id %q: %w", row.Subtype, err)
		}
		target := u.FindTarget(targetID)
		if target == nil {
			// The target was aborted between enqueue and fire.
			sch.log.Warn("Target event fired for missing target, dropping",
				"user_id", u.Row.ID, "type", row.Type, "target_id", targetID)
			return nil
		}
		if row.Type == types.DeferredTargetEnRoute {
			if err := target.MarkEnRoute(); err != nil {
				return err
			}
			return sch.dispatch.FireTarget(events.TargetEnRoute, u, target)
		}
		return sch.dispatch.FireTarget(events.TargetArrived, u, target)
	case types.DeferredNotification:
		if sch.HandleNotification == nil {
			return fmt.Errorf("no notification handler wired")
		}
		return sch.HandleNotification(s, u, row.Subtype)
	default:
		return fmt.Errorf("unknown deferred type %q", row.Type)
	}
}
