// Package report turns the report endpoint's binary response into a named
// PDF and archives it locally.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/shared/storage/object"
	"greencheck-workspace/internal/shared/util"
)

var (
	// ErrEmpty is returned when the server answered 2xx without a payload.
	ErrEmpty = errors.New("report response has no payload")
	// ErrNotPDF is returned when the payload cannot be opened as a PDF.
	ErrNotPDF = errors.New("report payload is not a PDF")
)

// Report is a generated PDF ready to be saved by the caller.
type Report struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Size     int    `json:"size_bytes"`
	Data     []byte `json:"-"`
}

// FromResponse reads the payload and filename from a report response. The
// filename comes from header, then Content-Disposition, then fallback.
func FromResponse(resp *apiclient.Response, header, fallback string) (Report, error) {
	if resp == nil || resp.NoContent || len(resp.Raw) == 0 {
		return Report{}, ErrEmpty
	}
	pages, err := Inspect(resp.Raw)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Filename: Filename(resp.Header.Get(header), resp.Header.Get("Content-Disposition"), fallback),
		Pages:    pages,
		Size:     len(resp.Raw),
		Data:     resp.Raw,
	}, nil
}

// Filename picks the first usable name among the explicit header value and
// the Content-Disposition filename, defaulting to fallback.
func Filename(headerValue, disposition, fallback string) string {
	candidates := []string{headerValue}
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			candidates = append(candidates, params["filename"])
		}
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if name, err := util.SanitizeFileName(c); err == nil {
			return name
		}
	}
	return fallback
}

// Inspect opens data as a PDF and returns its page count.
func Inspect(data []byte) (pages int, err error) {
	defer func() {
		// The PDF reader panics on some truncated inputs.
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("%w: %v", ErrNotPDF, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return reader.NumPage(), nil
}

// Store archives reports in an object store.
type Store struct {
	objects object.Store
}

// NewStore wraps objects.
func NewStore(objects object.Store) *Store {
	return &Store{objects: objects}
}

// Save writes rep under namespace and returns the stored object.
func (s *Store) Save(ctx context.Context, namespace string, rep Report) (object.Object, error) {
	if len(rep.Data) == 0 {
		return object.Object{}, ErrEmpty
	}
	obj, err := s.objects.Save(ctx, namespace, rep.Filename, bytes.NewReader(rep.Data))
	if err != nil {
		return object.Object{}, fmt.Errorf("save report: %w", err)
	}
	return obj, nil
}
