package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// storedEntry is one file held by the dev node.
type storedEntry struct {
	Metadata models.Metadata
	OwnerID  string
	Context  *models.ContextDescription
	Path     string
}

// devNode keeps its file index in memory and the blobs on disk. A restart
// loses the index, which is fine for a development node.
type devNode struct {
	id       string
	nodeType models.NodeType
	dir      string
	log      *logger.Logger

	mu    sync.RWMutex
	files map[string]*storedEntry
}

func newDevNode(id string, nodeType models.NodeType, dir string, log *logger.Logger) *devNode {
	return &devNode{
		id:       id,
		nodeType: nodeType,
		dir:      dir,
		log:      log,
		files:    make(map[string]*storedEntry),
	}
}

// envelope is the reply wrapper every node route uses.
func envelope(reply any) map[string]any {
	return map[string]any{"error": 0, "error_msg": "", "reply": reply}
}

func envelopeError(msg string) map[string]any {
	return map[string]any{"error": 1, "error_msg": msg, "reply": nil}
}

func (n *devNode) handleIdentity(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope(map[string]string{
		"uuid": n.id,
		"type": string(n.nodeType),
	}))
}

func (n *devNode) handleUpload(c echo.Context) error {
	header, err := c.FormFile("filedata")
	if err != nil {
		return c.JSON(http.StatusBadRequest, envelopeError("missing filedata"))
	}
	fileID := header.Filename
	if fileID == "" {
		return c.JSON(http.StatusBadRequest, envelopeError("filedata has no uuid"))
	}

	src, err := header.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, envelopeError(err.Error()))
	}
	defer src.Close()

	path := filepath.Join(n.dir, fileID)
	dst, err := os.Create(path)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, envelopeError(err.Error()))
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return c.JSON(http.StatusInternalServerError, envelopeError(err.Error()))
	}
	if err := dst.Close(); err != nil {
		return c.JSON(http.StatusInternalServerError, envelopeError(err.Error()))
	}

	size, _ := strconv.ParseInt(c.FormValue("filesize"), 10, 64)
	created, _ := strconv.ParseInt(c.FormValue("creationdate"), 10, 64)
	isPrivate, _ := strconv.ParseBool(c.FormValue("isPrivate"))

	var usage *models.ContextDescription
	if raw := c.FormValue("context"); raw != "" {
		var parsed models.ContextDescription
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			usage = &parsed
		}
	}

	entry := &storedEntry{
		Metadata: models.Metadata{
			UUID:              fileID,
			Filename:          fileID,
			DescriptiveName:   c.FormValue("descriptiveName"),
			Filesize:          size,
			MimeType:          c.FormValue("mimetype"),
			Extension:         c.FormValue("extension"),
			CreationTimestamp: created,
			IsPrivate:         isPrivate,
			NodeType:          n.nodeType,
		},
		OwnerID: c.FormValue("phoneID"),
		Context: usage,
		Path:    path,
	}

	n.mu.Lock()
	n.files[fileID] = entry
	n.mu.Unlock()

	n.log.Info("file stored", "file_id", fileID, "size", size, "owner", entry.OwnerID)
	return c.JSON(http.StatusCreated, envelope(map[string]string{"uuid": fileID}))
}

// entryFor looks the file up and enforces that private files are only
// served to their owner.
func (n *devNode) entryFor(fileID, deviceID string) *storedEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	entry, ok := n.files[fileID]
	if !ok {
		return nil
	}
	if entry.Metadata.IsPrivate && entry.OwnerID != deviceID {
		return nil
	}
	return entry
}

func (n *devNode) handleDownload(c echo.Context) error {
	entry := n.entryFor(c.Param("id"), c.Param("device"))
	if entry == nil {
		return c.JSON(http.StatusNotFound, envelopeError("file not found"))
	}
	return c.File(entry.Path)
}

func (n *devNode) handleMetadata(c echo.Context) error {
	entry := n.entryFor(c.Param("id"), c.Param("device"))
	if entry == nil {
		return c.JSON(http.StatusNotFound, envelopeError("file not found"))
	}
	return c.JSON(http.StatusOK, envelope(map[string]any{"metadata": entry.Metadata}))
}

func (n *devNode) handleDelete(c echo.Context) error {
	fileID := c.Param("id")
	deviceID := c.Param("device")

	n.mu.Lock()
	entry, ok := n.files[fileID]
	if !ok {
		n.mu.Unlock()
		return c.JSON(http.StatusNotFound, envelopeError("file not found"))
	}
	if entry.OwnerID != deviceID {
		n.mu.Unlock()
		return c.JSON(http.StatusForbidden, envelopeError("not the owner"))
	}
	delete(n.files, fileID)
	n.mu.Unlock()

	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		n.log.Warn("removing blob failed", "path", entry.Path, "error", err)
	}
	n.log.Info("file deleted", "file_id", fileID)
	return c.JSON(http.StatusOK, envelope(map[string]string{"uuid": fileID}))
}

type searchRequest struct {
	Context *models.ContextDescription `json:"context"`
	PhoneID string                     `json:"phoneID"`
}

// handleSearch returns the files whose stored context matches the request's
// usage context. The dev node matches on the most likely place only, which
// is enough to exercise the framework's context search path.
func (n *devNode) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, envelopeError("malformed search request"))
	}

	var wantPlace *models.SinglePlace
	if req.Context != nil {
		wantPlace = req.Context.MostLikelyPlace()
	}

	matches := make([]models.Metadata, 0)
	n.mu.RLock()
	for _, entry := range n.files {
		if entry.Metadata.IsPrivate && entry.OwnerID != req.PhoneID {
			continue
		}
		if wantPlace != nil {
			have := entry.Context.MostLikelyPlace()
			if have == nil || have.ID != wantPlace.ID {
				continue
			}
		}
		matches = append(matches, entry.Metadata)
	}
	n.mu.RUnlock()

	return c.JSON(http.StatusOK, envelope(map[string]any{"files": matches}))
}
