package projects

import (
	"time"

	"gorm.io/datatypes"
)

// Project is one editing document: a named canvas plus its layer stack and
// undo history. CurrentActionIndex is the undo/redo cursor into the project's
// action list; -1 means no actions applied yet.
type Project struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	Name               string    `gorm:"size:200;not null" json:"name"`
	CurrentActionIndex int       `gorm:"not null;default:-1" json:"current_action_index"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// CanvasSettings holds the 1:1 canvas configuration for a project. Background
// is a JSON descriptor: {"type":"none"} | {"type":"color","value":"#rrggbb"} |
// {"type":"image","asset_id":"..."}.
type CanvasSettings struct {
	ProjectID  string         `gorm:"primaryKey;size:36" json:"project_id"`
	Width      int            `gorm:"not null" json:"width"`
	Height     int            `gorm:"not null" json:"height"`
	Background datatypes.JSON `gorm:"type:json" json:"background"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (CanvasSettings) TableName() string {
	return "canvas_settings"
}

const (
	// DefaultCanvasWidth and DefaultCanvasHeight seed the settings row on first read.
	DefaultCanvasWidth  = 1920
	DefaultCanvasHeight = 1080

	// MinCanvasDimension and MaxCanvasDimension bound each canvas axis.
	MinCanvasDimension = 320
	MaxCanvasDimension = 4096
)

// Background descriptor types accepted by canvas settings.
const (
	BackgroundNone  = "none"
	BackgroundColor = "color"
	BackgroundImage = "image"
)

// BackgroundDescriptor is the decoded shape of CanvasSettings.Background.
type BackgroundDescriptor struct {
	Type    string `json:"type"`
	Value   string `json:"value,omitempty"`
	AssetID string `json:"asset_id,omitempty"`
}
