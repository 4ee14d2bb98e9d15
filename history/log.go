package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"squish_back/projects"
	"squish_back/store"
)

// ErrSuperseded reports that an action is no longer the history tail, so it
// cannot be amended in place anymore.
var ErrSuperseded = errors.New("history: action superseded")

// Applier drives the layer store toward a recorded snapshot. Implemented by
// layers.Store; taken as an interface so the log stays free of layer-shape
// knowledge.
type Applier interface {
	Apply(tx *gorm.DB, projectID, actionType, layerID string, snapshot []byte) error
}

// Log is the per-project undo/redo ledger: a linear action list plus the
// cursor stored on the project row.
type Log struct {
	db       *gorm.DB
	projects *projects.Store
	applier  Applier
}

func NewLog(db *gorm.DB, projectStore *projects.Store, applier Applier) *Log {
	return &Log{db: db, projects: projectStore, applier: applier}
}

// Record appends an action and advances the cursor. If the cursor is not at
// the tail (the user undid, then made a fresh edit) everything after it is
// discarded first, keeping the history linear with no redo branches. The
// cursor is read inside the transaction so overlapping records cannot prune
// each other's fresh appends.
func (l *Log) Record(projectID, actionType, layerID string, before, after json.RawMessage) (*Action, error) {
	if _, err := l.projects.Get(projectID); err != nil {
		return nil, err
	}

	action := &Action{
		ActionID:  uuid.NewString(),
		ProjectID: projectID,
		Type:      actionType,
		LayerID:   layerID,
		Before:    datatypes.JSON(before),
		After:     datatypes.JSON(after),
	}

	err := store.WithRetry(func() error {
		return l.db.Transaction(func(tx *gorm.DB) error {
			cursor, err := l.projects.Cursor(tx, projectID)
			if err != nil {
				return err
			}
			actions, err := listActions(tx, projectID)
			if err != nil {
				return err
			}
			if cursor < len(actions)-1 {
				pruned := actions[cursor+1:]
				ids := make([]uint64, 0, len(pruned))
				for _, a := range pruned {
					ids = append(ids, a.ID)
				}
				if err := tx.Delete(&Action{}, "id IN ?", ids).Error; err != nil {
					return fmt.Errorf("history: prune redo branch: %w", err)
				}
			}
			if err := tx.Create(action).Error; err != nil {
				return err
			}
			return l.projects.SetCursor(tx, projectID, cursor+1)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: record: %w", err)
	}
	return action, nil
}

// Result reports whether an undo/redo applied and where the cursor landed.
type Result struct {
	Applied bool `json:"applied"`
	Cursor  int  `json:"cursor"`
}

// Undo applies the before snapshot of the action at the cursor and steps the
// cursor back. Out of range is a reported no-op, never an error: callers show
// a notice, not a failure dialog. The cursor is read inside the transaction
// so two overlapping undos step back twice instead of reverting the same
// action twice.
func (l *Log) Undo(projectID string) (*Result, error) {
	if _, err := l.projects.Get(projectID); err != nil {
		return nil, err
	}

	var result Result
	err := store.WithRetry(func() error {
		return l.db.Transaction(func(tx *gorm.DB) error {
			cursor, err := l.projects.Cursor(tx, projectID)
			if err != nil {
				return err
			}
			result = Result{Applied: false, Cursor: cursor}
			if cursor < 0 {
				return nil
			}
			actions, err := listActions(tx, projectID)
			if err != nil {
				return err
			}
			if cursor >= len(actions) {
				log.Printf("history: cursor %d beyond %d actions for project %s", cursor, len(actions), projectID)
				return fmt.Errorf("%w: action cursor out of range", store.ErrConstraint)
			}
			action := actions[cursor]
			if err := l.applier.Apply(tx, projectID, action.Type, action.LayerID, action.Before); err != nil {
				return err
			}
			if err := l.projects.SetCursor(tx, projectID, cursor-1); err != nil {
				return err
			}
			result = Result{Applied: true, Cursor: cursor - 1}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: undo: %w", err)
	}
	return &result, nil
}

// Redo applies the after snapshot of the action past the cursor and advances.
func (l *Log) Redo(projectID string) (*Result, error) {
	if _, err := l.projects.Get(projectID); err != nil {
		return nil, err
	}

	var result Result
	err := store.WithRetry(func() error {
		return l.db.Transaction(func(tx *gorm.DB) error {
			cursor, err := l.projects.Cursor(tx, projectID)
			if err != nil {
				return err
			}
			result = Result{Applied: false, Cursor: cursor}
			actions, err := listActions(tx, projectID)
			if err != nil {
				return err
			}
			if cursor >= len(actions)-1 {
				return nil
			}
			action := actions[cursor+1]
			if err := l.applier.Apply(tx, projectID, action.Type, action.LayerID, action.After); err != nil {
				return err
			}
			if err := l.projects.SetCursor(tx, projectID, cursor+1); err != nil {
				return err
			}
			result = Result{Applied: true, Cursor: cursor + 1}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: redo: %w", err)
	}
	return &result, nil
}

// AmendAfter replaces the after snapshot of an existing action. Rapid
// keyboard nudges coalesce into one record this way: the first keypress
// appends, later ones inside the window amend, and the final visual state is
// identical to per-keypress records. The amend only lands while the action is
// still the tail and the cursor sits on it; anything else (a newer action, an
// undo) returns ErrSuperseded so the caller records afresh instead of
// rewriting settled history.
func (l *Log) AmendAfter(projectID string, actionDBID uint64, after json.RawMessage) error {
	return store.WithRetry(func() error {
		return l.db.Transaction(func(tx *gorm.DB) error {
			cursor, err := l.projects.Cursor(tx, projectID)
			if err != nil {
				return err
			}
			actions, err := listActions(tx, projectID)
			if err != nil {
				return err
			}
			if len(actions) == 0 || cursor != len(actions)-1 || actions[len(actions)-1].ID != actionDBID {
				return ErrSuperseded
			}
			return tx.Model(&Action{}).Where("id = ?", actionDBID).
				Update("after", datatypes.JSON(after)).Error
		})
	})
}

// List returns a project's actions in insertion order.
func (l *Log) List(projectID string) ([]Action, error) {
	return listActions(l.db, projectID)
}

func listActions(tx *gorm.DB, projectID string) ([]Action, error) {
	var actions []Action
	if err := tx.Where("project_id = ?", projectID).Order("id asc").Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}
