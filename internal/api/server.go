// Package api provides the HTTP server and handlers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fruitsalade/librarian/internal/auth"
	"github.com/fruitsalade/librarian/internal/catalog"
	"github.com/fruitsalade/librarian/internal/events"
	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/internal/storage"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// Server is the HTTP server.
type Server struct {
	catalog       catalog.Catalog
	storage       storage.Backend
	auth          *auth.Auth // nil disables authentication
	broadcaster   *events.Broadcaster
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(
	cat catalog.Catalog,
	store storage.Backend,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
	maxUploadSize int64,
) *Server {
	return &Server{
		catalog:       cat,
		storage:       store,
		auth:          authHandler,
		broadcaster:   broadcaster,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.auth != nil {
		mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)
	}

	protected := http.NewServeMux()

	// Listings
	protected.HandleFunc("GET /api/v1/libraries", s.handleLibraries)
	protected.HandleFunc("GET /api/v1/libraries/{id}/folders", s.handleFolders)
	protected.HandleFunc("GET /api/v1/libraries/{id}/items", s.handleItems)
	protected.HandleFunc("GET /api/v1/items/{id}/content", s.handleContent)

	// Containers
	protected.HandleFunc("POST /api/v1/libraries", s.handleCreateLibrary)
	protected.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)

	// Items
	protected.HandleFunc("POST /api/v1/libraries/{id}/items", s.handleUpload)
	protected.HandleFunc("POST /api/v1/items/delete", s.handleDeleteItems)

	// Moves
	protected.HandleFunc("POST /api/v1/move/smart", s.handleSmartMove)
	protected.HandleFunc("POST /api/v1/move/library", s.handleAddToLibrary)
	protected.HandleFunc("POST /api/v1/move/folder", s.handleMoveToFolder)

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	var authed http.Handler = protected
	if s.auth != nil {
		authed = s.auth.Middleware(protected)
	}
	mux.Handle("/api/v1/", authed)

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "storage": s.storage.Type()})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss an event.
	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes an event to the broadcaster if available.
func (s *Server) publishEvent(eventType string, ids []string, container models.ContainerID) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(protocol.Event{
		Type:      eventType,
		ItemIDs:   ids,
		Container: container,
	})
}

// ─── Listings ───────────────────────────────────────────────────────────────

func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.catalog.Libraries(r.Context())
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, protocol.LibrariesResponse{Libraries: libs})
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	folders, err := s.catalog.Folders(r.Context(), id)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, protocol.FoldersResponse{
		LibraryID: models.LibraryID(id),
		Folders:   folders,
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	resp, err := s.catalog.Items(r.Context(), r.PathValue("id"), r.URL.Query().Get("folder"))
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	item, err := s.catalog.Item(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	totalSize := item.Size

	offset, length, hasRange := parseRangeHeader(r.Header.Get("Range"), totalSize)

	reader, _, err := s.storage.GetObject(r.Context(), item.StorageKey, offset, length)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.sendError(w, http.StatusNotFound, "content not found: "+item.ID)
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer reader.Close()

	ct := item.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(item.Title))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": item.Title}))

	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		w.WriteHeader(http.StatusOK)
	}

	n, err := io.Copy(w, reader)
	if err != nil {
		logging.From(r.Context()).Warn("content transfer error", logging.String("item", item.ID), logging.Err(err))
	}
	metrics.RecordContentDownload(n)
}

// ─── Upload ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	library := r.PathValue("id")
	folder := r.URL.Query().Get("folder")
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}
	if r.ContentLength > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize))
		return
	}

	// Limit reader to max upload size
	content, err := io.ReadAll(io.LimitReader(r.Body, s.maxUploadSize+1))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to read content")
		return
	}
	if int64(len(content)) > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize))
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = mime.TypeByExtension(filepath.Ext(name))
	}
	item := catalog.Item{
		ID:          uuid.NewString(),
		Title:       name,
		Extension:   strings.TrimPrefix(filepath.Ext(name), "."),
		Size:        int64(len(content)),
		ContentType: ct,
	}
	item.StorageKey = storage.KeyFor(item.ID)

	if err := s.storage.PutObject(r.Context(), item.StorageKey, bytes.NewReader(content), item.Size); err != nil {
		logging.From(r.Context()).Error("content upload failed", logging.String("item", item.ID), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "storage error: "+err.Error())
		return
	}

	stored, err := s.catalog.AddItem(r.Context(), item, library, folder)
	if err != nil {
		if delErr := s.storage.DeleteObject(context.WithoutCancel(r.Context()), item.StorageKey); delErr != nil {
			logging.From(r.Context()).Warn("failed to remove orphaned content", logging.String("key", item.StorageKey), logging.Err(delErr))
		}
		s.sendCatalogError(w, err)
		return
	}
	item = stored
	metrics.RecordContentUpload(item.Size)

	container := models.LibraryID(library)
	if folder != "" {
		container = models.FolderID(folder)
	}
	s.publishEvent(events.EventUpload, []string{item.ID}, container)
	logging.From(r.Context()).Info("item uploaded",
		logging.String("item", item.ID),
		logging.String("title", item.Title),
		logging.Int64("size", item.Size))

	sendJSON(w, http.StatusCreated, protocol.UploadResponse{Item: item.Leaf()})
}

// ─── Containers ─────────────────────────────────────────────────────────────

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateLibraryRequest
	if !s.decode(w, r, &req) {
		return
	}
	lib, err := s.catalog.CreateLibrary(r.Context(), req.Name)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	s.publishEvent(events.EventCreate, nil, lib.ID)
	sendJSON(w, http.StatusCreated, lib)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.LibraryID.IsLibrary() {
		s.sendError(w, http.StatusBadRequest, "library_id must name a library")
		return
	}
	if !req.ParentFolderID.IsZero() && !req.ParentFolderID.IsFolder() {
		s.sendError(w, http.StatusBadRequest, "parent_folder_id must name a folder")
		return
	}
	folder, err := s.catalog.CreateFolder(r.Context(), req.Name, req.LibraryID.Key, req.ParentFolderID.Key)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	s.publishEvent(events.EventCreate, nil, folder.ID)
	sendJSON(w, http.StatusCreated, folder)
}

// ─── Moves ──────────────────────────────────────────────────────────────────

func (s *Server) handleSmartMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.SmartMoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DestinationType != "" && req.DestinationType != req.DestinationID.Kind.String() {
		s.sendError(w, http.StatusBadRequest,
			fmt.Sprintf("destination_type %q does not match %s", req.DestinationType, req.DestinationID))
		return
	}
	res, err := s.catalog.SmartMove(r.Context(), req.ItemIDs, req.DestinationID)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	if res.SuccessCount > 0 {
		s.publishEvent(events.EventMove, req.ItemIDs, req.DestinationID)
	}
	sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddToLibrary(w http.ResponseWriter, r *http.Request) {
	var req protocol.AddToLibraryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.LibraryID.IsLibrary() {
		s.sendError(w, http.StatusBadRequest, "library_id must name a library")
		return
	}
	res, err := s.catalog.AddToLibrary(r.Context(), req.ItemIDs, req.LibraryID.Key)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	if res.SuccessCount > 0 {
		s.publishEvent(events.EventMove, req.ItemIDs, req.LibraryID)
	}
	sendJSON(w, http.StatusOK, res)
}

func (s *Server) handleMoveToFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.MoveToFolderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.FolderID.IsFolder() || !req.LibraryID.IsLibrary() {
		s.sendError(w, http.StatusBadRequest, "folder_id and library_id are required")
		return
	}
	res, err := s.catalog.MoveToFolder(r.Context(), req.ItemIDs, req.FolderID.Key, req.LibraryID.Key)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	if res.SuccessCount > 0 {
		s.publishEvent(events.EventMove, req.ItemIDs, req.FolderID)
	}
	sendJSON(w, http.StatusOK, res)
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func (s *Server) handleDeleteItems(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteItemsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, removed, err := s.catalog.DeleteItems(r.Context(), req.ItemIDs)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}

	// Metadata is gone either way; orphaned blobs are only logged.
	ids := make([]string, 0, len(removed))
	for _, it := range removed {
		ids = append(ids, it.ID)
		if it.StorageKey == "" {
			continue
		}
		if err := s.storage.DeleteObject(r.Context(), it.StorageKey); err != nil {
			logging.From(r.Context()).Warn("failed to delete content",
				logging.String("item", it.ID),
				logging.String("key", it.StorageKey),
				logging.Err(err))
		}
	}
	if len(ids) > 0 {
		s.publishEvent(events.EventDelete, ids, models.ContainerID{})
	}
	sendJSON(w, http.StatusOK, res)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]

	if startStr == "" && endStr != "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = max(totalSize-suffix, 0)
		return offset, totalSize - offset, true
	}

	if startStr != "" {
		offset, _ = strconv.ParseInt(startStr, 10, 64)
	}
	if offset >= totalSize {
		return 0, totalSize, false
	}

	end := totalSize - 1
	if endStr != "" {
		end, _ = strconv.ParseInt(endStr, 10, 64)
		end = min(end, totalSize-1)
	}
	if end < offset {
		return 0, totalSize, false
	}
	return offset, end - offset + 1, true
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrInvalid):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("catalog error", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
