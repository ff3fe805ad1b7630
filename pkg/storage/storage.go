package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
)

var ErrNotFound = errors.New("blob not found")

// Object is a stored blob: the key it is addressed by and the URL it is
// served from.
type Object struct {
	Key string
	URL string
}

type Storage interface {
	Put(ctx context.Context, name, contentType string, body io.Reader) (Object, error)
	Delete(ctx context.Context, key string) error
}

// NewKey derives a unique object key under prefix, keeping the extension of
// the uploaded file name.
func NewKey(prefix, name string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/"))))
	key := strings.ToLower(ulid.Make().String()) + ext
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
