package resource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrNotFound is returned by a Source that has no payload for a request.
var ErrNotFound = errors.New("resource: not found")

// Type selects where a resource lives and how its payload is decoded.
type Type uint8

const (
	TypeFile Type = iota
	TypeImage
	TypeMusic
)

var typeNames = [...]string{"file", "image", "music"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Dir is the bucket directory of the type under the resource root.
func (t Type) Dir() string {
	switch t {
	case TypeImage:
		return "images"
	case TypeMusic:
		return "music"
	default:
		return "files"
	}
}

// Ext is the file extension of the type, dot included.
func (t Type) Ext() string {
	switch t {
	case TypeImage:
		return ".png"
	case TypeMusic:
		return ".wav"
	default:
		return ".bin"
	}
}

// ParseType maps "file", "image" or "music" to a Type.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if strings.EqualFold(n, name) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown resource type %q", name)
}

// Types lists every resource type.
func Types() []Type { return []Type{TypeFile, TypeImage, TypeMusic} }

// Path derives the location of a resource: <root>/<bucket>/<hash>.<ext>.
func Path(root string, hash uint64, t Type) string {
	return filepath.Join(root, t.Dir(), fmt.Sprintf("%d%s", hash, t.Ext()))
}

// Request identifies one payload to fetch.
type Request struct {
	Hash uint64
	Type Type
}

// Source fetches raw payload bytes. Implementations must be safe for
// concurrent use; every loader calls Fetch from its own goroutine.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// FileSource reads payloads from a directory tree laid out by Path.
type FileSource struct {
	Root string
}

func (s FileSource) Fetch(_ context.Context, req Request) ([]byte, error) {
	path := Path(s.Root, req.Hash, req.Type)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", path, err)
	}
	return data, nil
}

// Checksum is the content digest stored next to payloads in the database.
func Checksum(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}
