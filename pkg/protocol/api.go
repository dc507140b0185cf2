// Package protocol defines the content service request/response types.
package protocol

import (
	"time"

	"github.com/fruitsalade/librarian/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// ─── Listings ───────────────────────────────────────────────────────────────

// LibrariesResponse is returned by GET /api/v1/libraries
type LibrariesResponse struct {
	Libraries []models.Container `json:"libraries"`
}

// FoldersResponse is returned by GET /api/v1/libraries/{id}/folders
type FoldersResponse struct {
	LibraryID models.ContainerID `json:"library_id"`
	Folders   []models.Container `json:"folders"`
}

// ItemsResponse is returned by GET /api/v1/libraries/{id}/items
type ItemsResponse struct {
	Items       []models.LeafItem   `json:"items"`
	Breadcrumbs []models.Breadcrumb `json:"breadcrumbs"`
	Path        string              `json:"path"`
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// SmartMoveRequest is the body for POST /api/v1/move/smart
type SmartMoveRequest struct {
	ItemIDs         []string           `json:"item_ids"`
	DestinationID   models.ContainerID `json:"destination_id"`
	DestinationType string             `json:"destination_type"` // "library" or "folder"
}

// AddToLibraryRequest is the body for POST /api/v1/move/library
type AddToLibraryRequest struct {
	ItemIDs   []string           `json:"item_ids"`
	LibraryID models.ContainerID `json:"library_id"`
}

// MoveToFolderRequest is the body for POST /api/v1/move/folder
type MoveToFolderRequest struct {
	ItemIDs   []string           `json:"item_ids"`
	FolderID  models.ContainerID `json:"folder_id"`
	LibraryID models.ContainerID `json:"library_id"`
}

// DeleteItemsRequest is the body for POST /api/v1/items/delete
type DeleteItemsRequest struct {
	ItemIDs []string `json:"item_ids"`
}

// CreateFolderRequest is the body for POST /api/v1/folders
type CreateFolderRequest struct {
	Name           string             `json:"name"`
	LibraryID      models.ContainerID `json:"library_id"`
	ParentFolderID models.ContainerID `json:"parent_folder_id,omitzero"`
}

// CreateLibraryRequest is the body for POST /api/v1/libraries
type CreateLibraryRequest struct {
	Name string `json:"name"`
}

// UploadResponse is returned by POST /api/v1/libraries/{id}/items
type UploadResponse struct {
	Item models.LeafItem `json:"item"`
}

// ─── Auth ───────────────────────────────────────────────────────────────────

// TokenRequest is the body for POST /api/v1/auth/token
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /api/v1/auth/token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// ─── Events ─────────────────────────────────────────────────────────────────

// Event is a change notification sent over GET /api/v1/events
type Event struct {
	Type      string             `json:"type"`
	ItemIDs   []string           `json:"item_ids,omitempty"`
	Container models.ContainerID `json:"container,omitzero"`
	Timestamp int64              `json:"timestamp"`
}
