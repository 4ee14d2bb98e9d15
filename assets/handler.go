package assets

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"squish_back/store"
)

type Module struct {
	store *Store
	cache *Cache
}

func RegisterRoutes(router *gin.Engine, db *gorm.DB, redisClient *redis.Client) (*Module, error) {
	if err := db.AutoMigrate(&ImageAsset{}, &StickerAsset{}); err != nil {
		return nil, fmt.Errorf("assets: migrate tables: %w", err)
	}

	assetStore := NewStore(db, NewMetaCache(redisClient))
	module := &Module{
		store: assetStore,
		cache: NewCache(assetStore.Data),
	}

	group := router.Group("/assets")
	group.POST("/images", module.handleUploadImage)
	group.GET("/images", module.handleListImages)
	group.GET("/images/:id", module.handleGetImage)
	group.GET("/stickers", module.handleListStickers)
	group.GET("/:id/data", module.handleData)

	return module, nil
}

// Store exposes the asset store for sibling modules.
func (m *Module) Store() *Store {
	return m.store
}

// HandleCache exposes the decoded-image handle cache.
func (m *Module) HandleCache() *Cache {
	return m.cache
}

func (m *Module) handleUploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxAssetBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	if len(data) > maxAssetBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", maxAssetBytes)})
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = fileHeader.Filename
	}
	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	asset, err := m.store.CreateImage(c.Request.Context(), name, contentType, data)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store asset"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"asset": asset})
}

func (m *Module) handleListImages(c *gin.Context) {
	list, err := m.store.ListImages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": list})
}

func (m *Module) handleGetImage(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	if meta, ok := m.store.cache.getMeta(c.Request.Context(), id); ok {
		c.JSON(http.StatusOK, gin.H{"asset": gin.H{
			"id":        id,
			"name":      meta.Name,
			"mime_type": meta.MimeType,
			"width":     meta.Width,
			"height":    meta.Height,
		}})
		return
	}

	asset, err := m.store.GetImage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load asset"})
		}
		return
	}
	m.store.cache.storeMeta(c.Request.Context(), asset.ID, assetMeta{
		Name: asset.Name, MimeType: asset.MimeType, Width: asset.Width, Height: asset.Height,
	})
	c.JSON(http.StatusOK, gin.H{"asset": asset})
}

func (m *Module) handleListStickers(c *gin.Context) {
	list, err := m.store.ListStickers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stickers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stickers": list})
}

func (m *Module) handleData(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	data, mime, err := m.store.Data(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load asset"})
		}
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, mime, data)
}
