package exports

import (
	"bytes"
	"image/png"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"squish_back/assets"
	"squish_back/layers"
	"squish_back/projects"
	"squish_back/storage"
)

type Module struct {
	compositor *Compositor
	layers     *layers.Store
	projects   *projects.Store
	renders    *storage.RenderStorage
}

// RegisterRoutes wires the export endpoint. renders may be nil when object
// storage is unconfigured; exports then respond with inline PNG bytes only.
func RegisterRoutes(router *gin.Engine, layerStore *layers.Store, projectStore *projects.Store, cache *assets.Cache, renders *storage.RenderStorage) (*Module, error) {
	module := &Module{
		compositor: NewCompositor(cache),
		layers:     layerStore,
		projects:   projectStore,
		renders:    renders,
	}

	router.POST("/projects/:id/export", module.handleExport)
	return module, nil
}

type exportRequest struct {
	// Upload pushes the render to object storage and returns a URL instead
	// of inline bytes. Ignored when storage is unconfigured.
	Upload bool `json:"upload"`
}

func (m *Module) handleExport(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("id"))

	var req exportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export request"})
			return
		}
	}

	ctx := c.Request.Context()
	settings, err := m.projects.GetCanvasSettings(projectID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}
	stack, err := m.layers.List(projectID)
	if err != nil {
		projects.RespondStoreError(c, err)
		return
	}

	flat, err := m.compositor.Flatten(ctx, settings, stack)
	if err != nil {
		log.Printf("exports: flatten project %s: %v", projectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render project"})
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, flat); err != nil {
		log.Printf("exports: encode project %s: %v", projectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode render"})
		return
	}

	if req.Upload && m.renders.Enabled() {
		url, err := m.renders.Upload(ctx, projectID, buf.Bytes())
		if err != nil {
			log.Printf("exports: upload render for %s: %v", projectID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to upload render"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"project_id": projectID,
			"url":        url,
			"width":      settings.Width,
			"height":     settings.Height,
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="export.png"`)
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
