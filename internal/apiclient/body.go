package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is a user-selected binary blob.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// NewFile builds a File, sniffing the content type from the payload when
// contentType is empty or generic.
func NewFile(name, contentType string, data []byte) File {
	ct := strings.TrimSpace(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = mimetype.Detect(data).String()
	}
	return File{Name: name, ContentType: ct, Data: data}
}

// Size returns the payload length in bytes.
func (f File) Size() int {
	return len(f.Data)
}

// Body encodes a request payload.
type Body interface {
	encode() (io.Reader, string, error)
}

type jsonBody struct{ v any }

// JSONBody encodes v as application/json.
func JSONBody(v any) Body { return jsonBody{v: v} }

func (b jsonBody) encode() (io.Reader, string, error) {
	payload, err := json.Marshal(b.v)
	if err != nil {
		return nil, "", fmt.Errorf("encode json body: %w", err)
	}
	return bytes.NewReader(payload), "application/json", nil
}

type formBody struct{ v url.Values }

// FormBody encodes v as application/x-www-form-urlencoded.
func FormBody(v url.Values) Body { return formBody{v: v} }

func (b formBody) encode() (io.Reader, string, error) {
	return strings.NewReader(b.v.Encode()), "application/x-www-form-urlencoded", nil
}

type multipartBody struct {
	field string
	file  File
}

// MultipartBody encodes f as a single multipart/form-data part named field.
func MultipartBody(field string, f File) Body { return multipartBody{field: field, file: f} }

func (b multipartBody) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := b.file.Name
	if name == "" {
		name = "upload"
	}
	ct := b.file.ContentType
	if ct == "" {
		ct = mimetype.Detect(b.file.Data).String()
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, b.field, name))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(b.file.Data); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
