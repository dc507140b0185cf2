// Package models contains data types shared by the content service and its clients.
package models

import (
	"errors"
	"time"
)

// Container is a library or a folder in the content tree.
type Container struct {
	ID       ContainerID `json:"id"`
	Label    string      `json:"label"`
	Children []Container `json:"children,omitempty"`
	Items    []LeafItem  `json:"items,omitempty"`
	Expanded bool        `json:"expanded"`
	Loaded   bool        `json:"loaded"` // children have been fetched
}

// Clone returns a deep copy of c.
func (c Container) Clone() Container {
	out := c
	if c.Children != nil {
		out.Children = make([]Container, len(c.Children))
		for i, child := range c.Children {
			out.Children[i] = child.Clone()
		}
	}
	if c.Items != nil {
		out.Items = append([]LeafItem(nil), c.Items...)
	}
	return out
}

// LeafItem is a stored file inside a container.
type LeafItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Extension    string    `json:"extension,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Breadcrumb is one step of the trail from a library down to the current location.
type Breadcrumb struct {
	ID    ContainerID `json:"id"`
	Label string      `json:"label"`
}

// MoveResult is the outcome of a move request.
type MoveResult struct {
	Success           bool        `json:"success"`
	PartialSuccess    bool        `json:"partial_success"`
	SuccessCount      int         `json:"success_count"`
	Errors            []string    `json:"errors,omitempty"`
	RequiresTwoStep   bool        `json:"requires_two_step"`
	TargetLibraryID   ContainerID `json:"target_library_id,omitzero"`
	TargetLibraryName string      `json:"target_library_name,omitempty"`
	TargetFolderID    ContainerID `json:"target_folder_id,omitzero"`
	TargetFolderName  string      `json:"target_folder_name,omitempty"`
}

// ErrMalformedTwoStep is returned by Validate when a two-step result is incomplete.
var ErrMalformedTwoStep = errors.New("two-step move result is missing its targets")

// Validate checks that a result asking for the two-step fallback is a failure
// and carries all four targets.
func (r MoveResult) Validate() error {
	if !r.RequiresTwoStep {
		return nil
	}
	if r.Success {
		return errors.New("two-step move result cannot be successful")
	}
	if !r.TargetLibraryID.IsLibrary() || !r.TargetFolderID.IsFolder() ||
		r.TargetLibraryName == "" || r.TargetFolderName == "" {
		return ErrMalformedTwoStep
	}
	return nil
}

// DeleteResult is the outcome of a delete request.
type DeleteResult struct {
	Success      bool     `json:"success"`
	SuccessCount int      `json:"success_count"`
	Errors       []string `json:"errors,omitempty"`
}
