package object

import (
	"context"
	"io"
)

// Object describes a stored blob.
type Object struct {
	Key      string `json:"key"`
	Size     int64  `json:"size_bytes"`
	MimeType string `json:"mime_type"`
}

// Store defines the contract for saving and retrieving binary objects such as
// exported reports.
type Store interface {
	Save(ctx context.Context, namespace string, fileName string, r io.Reader) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
