package gamestate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// Emitter buffers chips emitted during a scope. Flush stamps every buffered
// chip with a single timestamp (the commit time as far as clients can tell)
// and writes them in emission order.
type Emitter struct {
	userID  uuid.UUID
	pending []pendingChip
}

type pendingChip struct {
	path      []string
	action    string
	value     map[string]interface{}
	deliverAt *time.Time
}

func NewEmitter() *Emitter {
	return &Emitter{}
}

func (e *Emitter) bind(userID uuid.UUID) {
	e.userID = userID
}

// Add emits the full wire value of a newly created model.
func (e *Emitter) Add(path []string, value map[string]interface{}) {
	e.pending = append(e.pending, pendingChip{path: path, action: types.ChipAdd, value: value})
}

// Mod emits only the changed fields.
func (e *Emitter) Mod(path []string, fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	e.pending = append(e.pending, pendingChip{path: path, action: types.ChipMod, value: fields})
}

// ModAt emits a future-dated MOD invisible to fetches before deliverAt.
func (e *Emitter) ModAt(path []string, fields map[string]interface{}, deliverAt time.Time) {
	if len(fields) == 0 {
		return
	}
	e.pending = append(e.pending, pendingChip{path: path, action: types.ChipMod, value: fields, deliverAt: &deliverAt})
}

func (e *Emitter) Delete(path []string) {
	e.pending = append(e.pending, pendingChip{path: path, action: types.ChipDelete})
}

func (e *Emitter) Len() int { return len(e.pending) }

func (e *Emitter) Flush(ctx context.Context, tx *gorm.DB, repo repos.ChipRepo, nowUS int64) error {
	if len(e.pending) == 0 {
		return nil
	}
	rows := make([]*types.Chip, 0, len(e.pending))
	for _, p := range e.pending {
		pathJSON, err := json.Marshal(p.path)
		if err != nil {
			return err
		}
		row := &types.Chip{
			ID:     uuid.New(),
			UserID: e.userID,
			Path:   pathJSON,
			Action: p.action,
			TimeUS: nowUS,
		}
		if p.value != nil {
			valueJSON, err := json.Marshal(p.value)
			if err != nil {
				return err
			}
			row.Value = valueJSON
		}
		if p.deliverAt != nil {
			us := p.deliverAt.UnixMicro()
			row.DeliverAtUS = &us
		}
		rows = append(rows, row)
	}
	e.pending = nil
	return repo.Append(ctx, tx, rows)
}
