package segmentation

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"squish_back/assets"
	"squish_back/settings"
)

const maxJobImageBytes = 32 * 1024 * 1024

type Module struct {
	client   *Client
	assets   *assets.Store
	settings *settings.Store
}

// RegisterRoutes wires the segmentation job endpoint. Jobs run against the
// env-configured endpoint, or the settings-level remote endpoint when the app
// is switched to remote processing.
func RegisterRoutes(router *gin.Engine, client *Client, assetStore *assets.Store, settingsStore *settings.Store) (*Module, error) {
	module := &Module{client: client, assets: assetStore, settings: settingsStore}

	group := router.Group("/segmentation")
	group.GET("/status", module.handleStatus)
	group.POST("/jobs", module.handleRunJob)

	return module, nil
}

func (m *Module) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled":           m.resolveClient(c).Enabled(),
		"remote_configured": m.settings.RemoteConfigured(c.Request.Context()),
	})
}

// resolveClient prefers the settings-configured remote endpoint over the env
// one when remote processing is selected.
func (m *Module) resolveClient(c *gin.Context) *Client {
	app, err := m.settings.Get(c.Request.Context())
	if err == nil && app.ProcessingMode == settings.ProcessingRemote && app.RemoteEndpoint != "" {
		remote := &Client{timeout: m.client.timeout}
		remote.Configure(app.RemoteEndpoint, app.RemoteAPIKey)
		return remote
	}
	return m.client
}

// handleRunJob submits the uploaded image, drains the status stream, and on
// completion stores the cutout as a new image asset.
func (m *Module) handleRunJob(c *gin.Context) {
	client := m.resolveClient(c)
	if !client.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "segmentation service is not configured"})
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if fileHeader.Size > maxJobImageBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("image exceeds %d bytes", maxJobImageBytes)})
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image file"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, maxJobImageBytes+1))
	if err != nil || int64(len(data)) > maxJobImageBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}

	req := Request{
		Image:    data,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Mode:     c.PostForm("mode"),
		Prompt:   c.PostForm("prompt"),
	}
	if box, ok, err := parseBoundingBox(c); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	} else if ok {
		req.BoundingBox = &box
	}

	events, err := client.Run(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var final Event
	for event := range events {
		final = event
	}

	switch final.Status {
	case StatusCompleted:
		name := strings.TrimSpace(c.PostForm("name"))
		if name == "" {
			name = "segmented"
		}
		asset, err := m.assets.CreateImage(c.Request.Context(), name, "image/png", final.ResultImage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store segmentation result"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": final.Status, "asset": asset})
	case StatusFailed:
		c.JSON(http.StatusBadGateway, gin.H{"status": final.Status, "error": final.Message})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"status": StatusFailed, "error": "stream ended without a terminal status"})
	}
}

func parseBoundingBox(c *gin.Context) (BoundingBox, bool, error) {
	raw := map[string]string{
		"x":      c.PostForm("box_x"),
		"y":      c.PostForm("box_y"),
		"width":  c.PostForm("box_width"),
		"height": c.PostForm("box_height"),
	}
	provided := false
	for _, v := range raw {
		if strings.TrimSpace(v) != "" {
			provided = true
			break
		}
	}
	if !provided {
		return BoundingBox{}, false, nil
	}

	parse := func(field string) (float64, error) {
		value, err := strconv.ParseFloat(strings.TrimSpace(raw[field]), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid bounding box field %s", field)
		}
		return value, nil
	}

	var box BoundingBox
	var err error
	if box.X, err = parse("x"); err != nil {
		return BoundingBox{}, false, err
	}
	if box.Y, err = parse("y"); err != nil {
		return BoundingBox{}, false, err
	}
	if box.Width, err = parse("width"); err != nil {
		return BoundingBox{}, false, err
	}
	if box.Height, err = parse("height"); err != nil {
		return BoundingBox{}, false, err
	}
	if box.Width <= 0 || box.Height <= 0 {
		return BoundingBox{}, false, fmt.Errorf("bounding box must have positive size")
	}
	return box, true, nil
}
