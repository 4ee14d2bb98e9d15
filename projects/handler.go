package projects

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"squish_back/store"
)

type Module struct {
	store *Store
}

// Store exposes the project store so sibling modules can share it.
func (m *Module) Store() *Store {
	return m.store
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

type renameProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

func RegisterRoutes(router *gin.Engine, db *gorm.DB) (*Module, error) {
	if err := db.AutoMigrate(&Project{}, &CanvasSettings{}); err != nil {
		return nil, fmt.Errorf("projects: migrate tables: %w", err)
	}

	module := &Module{store: NewStore(db)}

	group := router.Group("/projects")
	group.GET("", module.handleList)
	group.POST("", module.handleCreate)
	group.GET("/:id", module.handleGet)
	group.PATCH("/:id", module.handleRename)
	group.DELETE("/:id", module.handleDelete)
	group.GET("/:id/canvas", module.handleGetCanvas)
	group.PATCH("/:id/canvas", module.handleUpdateCanvas)

	return module, nil
}

func (m *Module) handleList(c *gin.Context) {
	list, err := m.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list projects"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

func (m *Module) handleCreate(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	project, err := m.store.Create(req.Name)
	if err != nil {
		RespondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

func (m *Module) handleGet(c *gin.Context) {
	project, err := m.store.Get(strings.TrimSpace(c.Param("id")))
	if err != nil {
		RespondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (m *Module) handleRename(c *gin.Context) {
	var req renameProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	project, err := m.store.Rename(strings.TrimSpace(c.Param("id")), req.Name)
	if err != nil {
		RespondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (m *Module) handleDelete(c *gin.Context) {
	if err := m.store.Delete(strings.TrimSpace(c.Param("id"))); err != nil {
		RespondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (m *Module) handleGetCanvas(c *gin.Context) {
	settings, err := m.store.GetCanvasSettings(strings.TrimSpace(c.Param("id")))
	if err != nil {
		RespondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canvas": settings})
}

func (m *Module) handleUpdateCanvas(c *gin.Context) {
	var patch CanvasSettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	settings, err := m.store.UpdateCanvasSettings(strings.TrimSpace(c.Param("id")), patch)
	if err != nil {
		RespondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canvas": settings})
}

// RespondStoreError maps the shared store sentinels onto HTTP statuses. Other
// modules reuse it so the error surface stays uniform.
func RespondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConstraint):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case store.IsBusy(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store busy, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
