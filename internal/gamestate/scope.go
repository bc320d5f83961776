package gamestate

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
)

var (
	// ErrValidation maps to HTTP 400 with a user-facing message.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is an unknown id inside an authenticated request.
	ErrNotFound = errors.New("not found")
	// ErrInvariant is a broken internal invariant. It is surfaced through
	// the exception-notification path, never as a panic.
	ErrInvariant = errors.New("gamestate invariant breached")
	// ErrVoucherAmbiguous replaces the old "exactly one candidate" assert.
	ErrVoucherAmbiguous = errors.New("voucher candidate set is ambiguous")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvariant}, args...)...)
}

// Scope is the per-request unit of work: one transaction, one chip buffer,
// one clock read context. Every gamestate mutation goes through a scope and
// is committed or rolled back as a whole.
type Scope struct {
	Ctx     context.Context
	Tx      *gorm.DB
	Repos   *repos.All
	Clock   *clock.Service
	Catalog *content.Catalog
	Log     *logger.Logger
	Chips   *Emitter
}

// Env bundles the long-lived collaborators a scope is built from. Explicit
// struct instead of package globals.
type Env struct {
	DB      *gorm.DB
	Repos   *repos.All
	Clock   *clock.Service
	Catalog *content.Catalog
	Log     *logger.Logger
}

// InScope opens a transaction, runs fn with a fresh scope, flushes buffered
// chips before commit, and rolls everything back if fn errors.
func (e *Env) InScope(ctx context.Context, fn func(s *Scope) error) error {
	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := &Scope{
			Ctx:     ctx,
			Tx:      tx,
			Repos:   e.Repos,
			Clock:   e.Clock,
			Catalog: e.Catalog,
			Log:     e.Log,
			Chips:   NewEmitter(),
		}
		if err := fn(s); err != nil {
			return err
		}
		return s.Chips.Flush(ctx, tx, e.Repos.Chips, e.Clock.NowMicros())
	})
}
