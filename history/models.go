package history

import (
	"time"

	"gorm.io/datatypes"
)

// Action records one layer mutation as full before/after snapshots rather
// than diffs, so replay never has to reconstruct intermediate states. Rows
// are kept in insertion order; the per-project undo/redo cursor lives on the
// projects table.
type Action struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	ActionID  string         `gorm:"size:36;uniqueIndex" json:"action_id"`
	ProjectID string         `gorm:"size:36;not null;index" json:"project_id"`
	Type      string         `gorm:"size:32;not null" json:"type"`
	LayerID   string         `gorm:"size:36" json:"layer_id"`
	Before    datatypes.JSON `gorm:"type:json" json:"before,omitempty"`
	After     datatypes.JSON `gorm:"type:json" json:"after,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Action) TableName() string {
	return "actions"
}
