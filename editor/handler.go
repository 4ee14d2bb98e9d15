package editor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"squish_back/fonts"
	"squish_back/history"
	"squish_back/layers"
	"squish_back/projects"
)

// Module is the layer-stack editing surface: every structural or value
// mutation to a layer goes through here so the store write and the action
// record stay paired.
type Module struct {
	layers   *layers.Store
	log      *history.Log
	projects *projects.Store
}

func RegisterRoutes(router *gin.Engine, db *gorm.DB, projectStore *projects.Store) (*Module, error) {
	if err := db.AutoMigrate(&layers.Layer{}, &layers.LayerOrder{}, &history.Action{}); err != nil {
		return nil, fmt.Errorf("editor: migrate tables: %w", err)
	}

	layerStore := layers.NewStore(db)
	module := &Module{
		layers:   layerStore,
		log:      history.NewLog(db, projectStore, layerStore),
		projects: projectStore,
	}

	router.GET("/projects/:id/layers", module.handleListLayers)
	router.POST("/projects/:id/layers", module.handleCreateLayer)
	router.PUT("/layers/:layerId", module.handleUpdateLayer)
	router.DELETE("/layers/:layerId", module.handleDeleteLayer)
	router.POST("/layers/:layerId/reorder", module.handleReorderLayer)

	router.GET("/projects/:id/actions", module.handleListActions)
	router.POST("/projects/:id/undo", module.handleUndo)
	router.POST("/projects/:id/redo", module.handleRedo)

	return module, nil
}

// Layers exposes the layer store for sibling modules (canvas sessions,
// export).
func (m *Module) Layers() *layers.Store {
	return m.layers
}

// Log exposes the action log for sibling modules.
func (m *Module) Log() *history.Log {
	return m.log
}

func (m *Module) handleListLayers(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))
	if _, err := m.projects.Get(projectID); err != nil {
		projects.RespondStoreError(c, err)
		return
	}
	list, err := m.layers.List(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list layers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"layers": list})
}

func (m *Module) handleCreateLayer(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))
	var spec layers.LayerSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if spec.Style != nil && !fonts.Allowed(spec.Style.FontFamily) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown font family %q", spec.Style.FontFamily)})
		return
	}

	layer, err := m.layers.Create(projectID, spec)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	after, err := json.Marshal(layer)
	if err == nil {
		_, err = m.log.Record(projectID, layers.ActionAddLayer, layer.ID, nil, after)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "layer created but action record failed"})
		return
	}
	_ = m.projects.Touch(projectID)

	c.JSON(http.StatusCreated, gin.H{"layer": layer})
}

func (m *Module) handleUpdateLayer(c *gin.Context) {
	layerID := strings.TrimSpace(c.Param("layerId"))
	var update layers.LayerUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if update.Style != nil && !fonts.Allowed(update.Style.FontFamily) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown font family %q", update.Style.FontFamily)})
		return
	}

	before, err := m.layers.Get(layerID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	updated, err := m.layers.Update(layerID, update)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	if err := m.recordUpdate(before, updated, update); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "layer updated but action record failed"})
		return
	}
	_ = m.projects.Touch(before.ProjectID)

	c.JSON(http.StatusOK, gin.H{"layer": updated})
}

// recordUpdate appends one action per supplied field group so undo steps
// through them individually.
func (m *Module) recordUpdate(before, after *layers.Layer, update layers.LayerUpdate) error {
	if update.Transform != nil {
		b, err := json.Marshal(before.TransformValue())
		if err != nil {
			return err
		}
		a, err := json.Marshal(after.TransformValue())
		if err != nil {
			return err
		}
		if _, err := m.log.Record(before.ProjectID, layers.ActionUpdateTransform, before.ID, b, a); err != nil {
			return err
		}
	}
	if update.Content != nil {
		var prev string
		if before.Content != nil {
			prev = *before.Content
		}
		b, err := json.Marshal(layers.ContentSnapshot{Content: prev})
		if err != nil {
			return err
		}
		a, err := json.Marshal(layers.ContentSnapshot{Content: *update.Content})
		if err != nil {
			return err
		}
		if _, err := m.log.Record(before.ProjectID, layers.ActionUpdateContent, before.ID, b, a); err != nil {
			return err
		}
	}
	if update.Style != nil {
		b, err := json.Marshal(before.StyleValue())
		if err != nil {
			return err
		}
		a, err := json.Marshal(update.Style)
		if err != nil {
			return err
		}
		if _, err := m.log.Record(before.ProjectID, layers.ActionUpdateStyle, before.ID, b, a); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) handleDeleteLayer(c *gin.Context) {
	layerID := strings.TrimSpace(c.Param("layerId"))
	layer, err := m.layers.Get(layerID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	before, err := json.Marshal(layer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to snapshot layer"})
		return
	}

	if err := m.layers.Delete(layerID); err != nil {
		projects.RespondStoreError(c, err)
		return
	}
	if _, err := m.log.Record(layer.ProjectID, layers.ActionRemoveLayer, layerID, before, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "layer deleted but action record failed"})
		return
	}
	_ = m.projects.Touch(layer.ProjectID)

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type reorderRequest struct {
	NewIndex *int `json:"new_index" binding:"required"`
}

func (m *Module) handleReorderLayer(c *gin.Context) {
	layerID := strings.TrimSpace(c.Param("layerId"))
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NewIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_index is required"})
		return
	}

	layer, err := m.layers.Get(layerID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	beforeOrder, err := m.orderSnapshot(layer.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to snapshot order"})
		return
	}

	if err := m.layers.Reorder(layerID, *req.NewIndex); err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	afterOrder, err := m.orderSnapshot(layer.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to snapshot order"})
		return
	}
	if _, err := m.log.Record(layer.ProjectID, layers.ActionReorderLayers, layerID, beforeOrder, afterOrder); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reorder applied but action record failed"})
		return
	}
	_ = m.projects.Touch(layer.ProjectID)

	list, err := m.layers.List(layer.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list layers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"layers": list})
}

// orderSnapshot captures the project's full ordered layer id list; reorder
// undo restores the whole list at once.
func (m *Module) orderSnapshot(projectID string) (json.RawMessage, error) {
	list, err := m.layers.List(projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, l := range list {
		ids = append(ids, l.ID)
	}
	return json.Marshal(ids)
}

func (m *Module) handleListActions(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))
	project, err := m.projects.Get(projectID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}
	actions, err := m.log.List(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list actions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions, "cursor": project.CurrentActionIndex})
}

func (m *Module) handleUndo(c *gin.Context) {
	m.replay(c, m.log.Undo)
}

func (m *Module) handleRedo(c *gin.Context) {
	m.replay(c, m.log.Redo)
}

// replay runs undo or redo and responds with the authoritative re-fetched
// layer list; reorder replays touch many rows, so in-memory deltas are never
// trusted.
func (m *Module) replay(c *gin.Context, fn func(string) (*history.Result, error)) {
	projectID := strings.TrimSpace(c.Param("id"))
	result, err := fn(projectID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	list, err := m.layers.List(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list layers"})
		return
	}
	project, err := m.projects.Get(projectID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"applied": result.Applied,
		"cursor":  result.Cursor,
		"project": project,
		"layers":  list,
	})
}
