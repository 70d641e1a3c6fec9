// devnode runs a single in-memory storage node with the REST surface the
// framework's node client expects. It is meant for development and
// integration testing, not production storage.
package main

import (
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

func main() {
	log := logger.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "text"))

	dir := getEnv("DEVNODE_DIR", os.TempDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data dir: %v\n", err)
		os.Exit(1)
	}

	n := newDevNode(
		getEnv("DEVNODE_UUID", "devnode-1"),
		models.ParseNodeType(getEnv("DEVNODE_TYPE", "CLOUDLET")),
		dir,
		log,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	registerRoutes(e, n)

	port := getEnv("DEVNODE_PORT", "8080")
	log.Info("Starting devnode", "port", port, "type", n.nodeType, "dir", dir)
	if err := e.Start(":" + port); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// registerRoutes wires the storage node REST surface
func registerRoutes(e *echo.Echo, n *devNode) {
	e.GET("/uuid", n.handleIdentity)
	e.POST("/file/data", n.handleUpload)
	e.GET("/file/data/:id/:device", n.handleDownload)
	e.GET("/file/metadata/full/:id/:device", n.handleMetadata)
	e.DELETE("/file/:id/:device", n.handleDelete)
	e.POST("/file/search", n.handleSearch)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "devnode"})
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
