package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"squish_back/assets"
	"squish_back/cache"
	"squish_back/canvas"
	"squish_back/editor"
	"squish_back/exports"
	"squish_back/fonts"
	"squish_back/projects"
	"squish_back/segmentation"
	"squish_back/settings"
	"squish_back/stickers"
	"squish_back/storage"
	"squish_back/store"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	db, err := store.Open()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	r := gin.Default()

	// The editor shell runs on a local webview origin, so CORS stays open.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	projectsModule, err := projects.RegisterRoutes(r, db)
	if err != nil {
		log.Fatalf("register project routes: %v", err)
	}

	editorModule, err := editor.RegisterRoutes(r, db, projectsModule.Store())
	if err != nil {
		log.Fatalf("register editor routes: %v", err)
	}

	if _, err := canvas.RegisterRoutes(r, editorModule.Layers(), editorModule.Log(), projectsModule.Store()); err != nil {
		log.Fatalf("register canvas routes: %v", err)
	}

	redisClient, err := cache.GetRedisClient()
	if err != nil {
		log.Printf("redis unavailable, continuing without metadata cache: %v", err)
		redisClient = nil
	}

	assetsModule, err := assets.RegisterRoutes(r, db, redisClient)
	if err != nil {
		log.Fatalf("register asset routes: %v", err)
	}

	if _, err := stickers.RegisterRoutes(r, db, assetsModule.Store()); err != nil {
		log.Fatalf("register sticker routes: %v", err)
	}

	renders, err := storage.NewRenderStorageFromEnv()
	if err != nil {
		log.Fatalf("init render storage: %v", err)
	}
	if _, err := exports.RegisterRoutes(r, editorModule.Layers(), projectsModule.Store(), assetsModule.HandleCache(), renders); err != nil {
		log.Fatalf("register export routes: %v", err)
	}

	settingsModule, err := settings.RegisterRoutes(r, db)
	if err != nil {
		log.Fatalf("register settings routes: %v", err)
	}

	segmentClient := segmentation.NewClientFromEnv()
	if _, err := segmentation.RegisterRoutes(r, segmentClient, assetsModule.Store(), settingsModule.Store()); err != nil {
		log.Fatalf("register segmentation routes: %v", err)
	}

	if _, err := fonts.RegisterRoutes(r); err != nil {
		log.Fatalf("register font routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
