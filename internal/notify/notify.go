// Package notify runs the two outbound nudge scanners: activity alerts for
// players with unseen gamestate changes, and lure emails for players who
// have gone quiet.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

const (
	FrequencyOff    = "OFF"
	FrequencyShort  = "SHORT"
	FrequencyMedium = "MEDIUM"
	FrequencyLong   = "LONG"

	SubtypeActivity = "ACTIVITY"
	SubtypeLure     = "LURE"
)

// activityWindow is the minimum quiet period between two activity alerts
// at a given frequency setting.
func activityWindow(frequency string) (time.Duration, bool) {
	switch frequency {
	case FrequencyShort:
		return 4 * time.Hour, true
	case FrequencyMedium:
		return 24 * time.Hour, true
	case FrequencyLong:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

type Service struct {
	env   *gamestate.Env
	email *email.Dispatcher
	locks locks.Manager
	log   *logger.Logger

	lureIdleDays     int
	lureCooldownDays int
}

func New(env *gamestate.Env, emailDispatch *email.Dispatcher, lockMgr locks.Manager, log *logger.Logger) *Service {
	return &Service{
		env:              env,
		email:            emailDispatch,
		locks:            lockMgr,
		log:              log.With("component", "notify"),
		lureIdleDays:     utils.GetEnvAsInt("LURE_IDLE_DAYS", 14, log),
		lureCooldownDays: utils.GetEnvAsInt("LURE_COOLDOWN_DAYS", 30, log),
	}
}

// ScanActivity emails every user whose gamestate changed since they last
// looked, respecting their frequency setting. Fail-fast on the scan lock.
func (n *Service) ScanActivity(ctx context.Context) error {
	err := locks.WithLock(ctx, n.locks, locks.LockSendNotificationsActivity, 0, func() error {
		rows, err := n.env.Repos.Notification.ListAll(ctx, nil)
		if err != nil {
			return fmt.Errorf("list notification settings: %w", err)
		}
		now := n.env.Clock.Now()
		for _, row := range rows {
			window, on := activityWindow(row.ActivityAlertFrequency)
			if !on {
				continue
			}
			if row.LastActivityAlertAt != nil && now.Sub(*row.LastActivityAlertAt) < window {
				continue
			}
			if err := n.sendActivityAlert(ctx, row, now); err != nil {
				n.log.Error("Activity alert failed, continuing",
					"user_id", row.UserID, "error", err)
			}
		}
		return nil
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		n.log.Warn("Activity scan already running, skipping")
		return nil
	}
	return err
}

func (n *Service) sendActivityAlert(ctx context.Context, row *types.UserNotification, now time.Time) error {
	return n.env.InScope(ctx, func(s *gamestate.Scope) error {
		chips, err := s.Repos.Chips.FetchSince(s.Ctx, s.Tx, row.UserID, row.LastSeenChipUS, s.Clock.NowMicros())
		if err != nil {
			return fmt.Errorf("check unseen chips: %w", err)
		}
		if len(chips) == 0 {
			return nil
		}
		u, err := gamestate.LoadUser(s, row.UserID)
		if err != nil {
			return err
		}
		if err := n.email.SendTemplate(s, u, email.TplActivityAlert, map[string]interface{}{
			"ChangeCount": len(chips),
		}); err != nil {
			return err
		}
		row.LastActivityAlertAt = &now
		row.UpdatedAt = now
		return s.Repos.Notification.Upsert(s.Ctx, s.Tx, row)
	})
}

// ScanLures emails users idle past the threshold, at most once per
// cooldown. The body is picked deterministically per user and idle period
// so a retried scan never flip-flops copy.
func (n *Service) ScanLures(ctx context.Context) error {
	err := locks.WithLock(ctx, n.locks, locks.LockSendNotificationsLure, 0, func() error {
		now := n.env.Clock.Now()
		cutoff := now.Add(-time.Duration(n.lureIdleDays) * 24 * time.Hour)
		idle, err := n.env.Repos.Users.ListIdleSince(ctx, nil, cutoff)
		if err != nil {
			return fmt.Errorf("list idle users: %w", err)
		}
		for _, userRow := range idle {
			if err := n.sendLure(ctx, userRow.ID, now); err != nil {
				n.log.Error("Lure failed, continuing", "user_id", userRow.ID, "error", err)
			}
		}
		return nil
	})
	if errors.Is(err, locks.ErrAlreadyLocked) {
		n.log.Warn("Lure scan already running, skipping")
		return nil
	}
	return err
}

func (n *Service) sendLure(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return n.env.InScope(ctx, func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		settings := u.Notification
		if settings == nil {
			settings = &types.UserNotification{UserID: u.Row.ID, ActivityAlertFrequency: FrequencyMedium}
		}
		if settings.ActivityAlertFrequency == FrequencyOff {
			return nil
		}
		cooldown := time.Duration(n.lureCooldownDays) * 24 * time.Hour
		if settings.LastLureAlertAt != nil && now.Sub(*settings.LastLureAlertAt) < cooldown {
			return nil
		}
		body := n.pickLureBody(u)
		if body == "" {
			return nil
		}
		if err := n.email.SendTemplate(s, u, email.TplLure, map[string]interface{}{
			"LureBody": body,
		}); err != nil {
			return err
		}
		settings.LastLureAlertAt = &now
		settings.UpdatedAt = now
		return s.Repos.Notification.Upsert(s.Ctx, s.Tx, settings)
	})
}

// pickLureBody hashes the user id and their last login so the same idle
// stretch always picks the same copy, but successive stretches rotate.
func (n *Service) pickLureBody(u *gamestate.User) string {
	bodies := u.Scope().Catalog.LureBodies
	if len(bodies) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(u.Row.ID.String()))
	if u.Row.LastLoginAt != nil {
		fmt.Fprintf(h, "%d", u.Row.LastLoginAt.Unix())
	}
	return bodies[int(h.Sum32())%len(bodies)]
}

// HandleDeferred services a deferred NOTIFICATION row inside the
// scheduler's scope.
func (n *Service) HandleDeferred(s *gamestate.Scope, u *gamestate.User, subtype string) error {
	switch subtype {
	case SubtypeActivity:
		return n.email.SendTemplate(s, u, email.TplActivityAlert, nil)
	case SubtypeLure:
		body := n.pickLureBody(u)
		if body == "" {
			return nil
		}
		return n.email.SendTemplate(s, u, email.TplLure, map[string]interface{}{"LureBody": body})
	default:
		return fmt.Errorf("unknown notification subtype %q", subtype)
	}
}
