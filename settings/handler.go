package settings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"squish_back/store"
)

// Processing modes. Local keeps image jobs on this machine; remote hands them
// to the configured segmentation endpoint.
const (
	ProcessingLocal  = "local"
	ProcessingRemote = "remote"
)

// AppSettings is a single-row table (id=1) of app-wide preferences.
type AppSettings struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	ProcessingMode string    `gorm:"size:16;not null;default:'local'" json:"processing_mode"`
	RemoteEndpoint string    `gorm:"size:500" json:"remote_endpoint"`
	RemoteAPIKey   string    `gorm:"size:500" json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (AppSettings) TableName() string {
	return "app_settings"
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the settings row, creating the default on first read.
func (s *Store) Get(ctx context.Context) (*AppSettings, error) {
	var settings AppSettings
	err := s.db.WithContext(ctx).First(&settings, "id = ?", 1).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	settings = AppSettings{ID: 1, ProcessingMode: ProcessingLocal}
	if err := store.WithRetry(func() error {
		return s.db.WithContext(ctx).Create(&settings).Error
	}); err != nil {
		return nil, fmt.Errorf("settings: seed defaults: %w", err)
	}
	return &settings, nil
}

// Patch applies a partial update; nil fields keep their stored value.
type Patch struct {
	ProcessingMode *string `json:"processing_mode"`
	RemoteEndpoint *string `json:"remote_endpoint"`
	RemoteAPIKey   *string `json:"remote_api_key"`
}

func (s *Store) Update(ctx context.Context, patch Patch) (*AppSettings, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if patch.ProcessingMode != nil {
		mode := strings.ToLower(strings.TrimSpace(*patch.ProcessingMode))
		if mode != ProcessingLocal && mode != ProcessingRemote {
			return nil, fmt.Errorf("%w: processing_mode must be local or remote", store.ErrValidation)
		}
		settings.ProcessingMode = mode
	}
	if patch.RemoteEndpoint != nil {
		settings.RemoteEndpoint = strings.TrimSpace(*patch.RemoteEndpoint)
	}
	if patch.RemoteAPIKey != nil {
		settings.RemoteAPIKey = strings.TrimSpace(*patch.RemoteAPIKey)
	}

	if err := store.WithRetry(func() error {
		return s.db.WithContext(ctx).Save(settings).Error
	}); err != nil {
		return nil, fmt.Errorf("settings: update: %w", err)
	}
	return settings, nil
}

// RemoteConfigured reports whether remote processing is both selected and has
// an endpoint to reach.
func (s *Store) RemoteConfigured(ctx context.Context) bool {
	settings, err := s.Get(ctx)
	if err != nil {
		return false
	}
	return settings.ProcessingMode == ProcessingRemote && settings.RemoteEndpoint != ""
}

type Module struct {
	store *Store
}

func RegisterRoutes(router *gin.Engine, db *gorm.DB) (*Module, error) {
	if err := db.AutoMigrate(&AppSettings{}); err != nil {
		return nil, fmt.Errorf("settings: migrate tables: %w", err)
	}

	module := &Module{store: NewStore(db)}
	router.GET("/settings", module.handleGet)
	router.PATCH("/settings", module.handleUpdate)
	return module, nil
}

func (m *Module) Store() *Store {
	return m.store
}

func (m *Module) handleGet(c *gin.Context) {
	settings, err := m.store.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, settingsPayload(settings))
}

func (m *Module) handleUpdate(c *gin.Context) {
	var patch Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings payload"})
		return
	}

	settings, err := m.store.Update(c.Request.Context(), patch)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}
	c.JSON(http.StatusOK, settingsPayload(settings))
}

// settingsPayload never echoes the API key, only whether one is stored.
func settingsPayload(settings *AppSettings) gin.H {
	return gin.H{
		"processing_mode":   settings.ProcessingMode,
		"remote_endpoint":   settings.RemoteEndpoint,
		"remote_key_set":    settings.RemoteAPIKey != "",
		"remote_configured": settings.ProcessingMode == ProcessingRemote && settings.RemoteEndpoint != "",
		"updated_at":        settings.UpdatedAt,
	}
}
