package stickers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"squish_back/assets"
)

// StickerPack groups imported stickers; its stickers live in the shared
// sticker_assets table tagged with the pack id.
type StickerPack struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (StickerPack) TableName() string {
	return "sticker_packs"
}

type Module struct {
	db     *gorm.DB
	assets *assets.Store
}

func RegisterRoutes(router *gin.Engine, db *gorm.DB, assetStore *assets.Store) (*Module, error) {
	if err := db.AutoMigrate(&StickerPack{}); err != nil {
		return nil, fmt.Errorf("stickers: migrate tables: %w", err)
	}

	module := &Module{db: db, assets: assetStore}

	group := router.Group("/stickers/packs")
	group.GET("", module.handleListPacks)
	group.POST("", module.handleImportPack)
	group.GET("/:id", module.handleGetPack)

	return module, nil
}

func (m *Module) handleListPacks(c *gin.Context) {
	var packs []StickerPack
	if err := m.db.Order("created_at desc").Find(&packs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list packs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"packs": packs})
}

// handleImportPack accepts a zip or rar archive and stores every image entry
// as a sticker asset in a new pack.
func (m *Module) handleImportPack(c *gin.Context) {
	fileHeader, err := c.FormFile("archive")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
		return
	}
	if fileHeader.Size > 0 && fileHeader.Size > maxArchiveBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("archive size exceeds %d bytes", maxArchiveBytes)})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid archive file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxArchiveBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read archive"})
		return
	}
	if int64(len(data)) > maxArchiveBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("archive size exceeds %d bytes", maxArchiveBytes)})
		return
	}

	entries, err := extractArchive(data, fileHeader.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = entryName(fileHeader.Filename)
	}
	pack := StickerPack{ID: uuid.NewString(), Name: name}
	if err := m.db.Create(&pack).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create pack"})
		return
	}

	imported := make([]assets.StickerAsset, 0, len(entries))
	for _, entry := range entries {
		sticker, err := m.assets.CreateSticker(c.Request.Context(), entry.Name, entry.Mime, entry.Data, nil, &pack.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to import %s", entry.Name)})
			return
		}
		imported = append(imported, *sticker)
	}

	c.JSON(http.StatusCreated, gin.H{"pack": pack, "stickers": imported})
}

func (m *Module) handleGetPack(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var pack StickerPack
	if err := m.db.First(&pack, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pack not found"})
		return
	}

	stickers, err := m.packStickers(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pack stickers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pack": pack, "stickers": stickers})
}

func (m *Module) packStickers(packID string) ([]assets.StickerAsset, error) {
	var stickers []assets.StickerAsset
	err := m.db.Omit("data").Where("pack_id = ?", packID).Order("created_at asc").Find(&stickers).Error
	return stickers, err
}
