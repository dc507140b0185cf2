package models

import (
	"fmt"
	"strings"
)

// Kind distinguishes top-level containers from nested ones.
type Kind uint8

const (
	KindNone Kind = iota
	KindLibrary
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindLibrary:
		return "library"
	case KindFolder:
		return "folder"
	default:
		return "none"
	}
}

// ParseKind parses "library" or "folder".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "library":
		return KindLibrary, nil
	case "folder":
		return KindFolder, nil
	}
	return KindNone, fmt.Errorf("unknown container kind %q", s)
}

// ContainerID identifies a library or a folder. The zero value means "none".
type ContainerID struct {
	Kind Kind
	Key  string
}

// LibraryID returns the id of the library with the given key.
func LibraryID(key string) ContainerID {
	return ContainerID{Kind: KindLibrary, Key: key}
}

// FolderID returns the id of the folder with the given key.
func FolderID(key string) ContainerID {
	return ContainerID{Kind: KindFolder, Key: key}
}

// IsZero reports whether id is unset.
func (id ContainerID) IsZero() bool { return id.Kind == KindNone || id.Key == "" }

// IsLibrary reports whether id names a top-level container.
func (id ContainerID) IsLibrary() bool { return id.Kind == KindLibrary && id.Key != "" }

// IsFolder reports whether id names a nested container.
func (id ContainerID) IsFolder() bool { return id.Kind == KindFolder && id.Key != "" }

// String returns the text form, e.g. "library:4f2a".
func (id ContainerID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Kind.String() + ":" + id.Key
}

// ParseContainerID parses the text form produced by String.
func ParseContainerID(s string) (ContainerID, error) {
	kind, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return ContainerID{}, fmt.Errorf("invalid container id %q", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return ContainerID{}, err
	}
	return ContainerID{Kind: k, Key: key}, nil
}

func (id ContainerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ContainerID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ContainerID{}
		return nil
	}
	parsed, err := ParseContainerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
