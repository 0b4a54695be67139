package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// FormData is multipart body for uploads
// Client sends it with its own boundary content type instead of JSON
type FormData struct {
	buf    bytes.Buffer
	writer *multipart.Writer
	closed bool
}

func NewFormData() *FormData {
	f := &FormData{}
	f.writer = multipart.NewWriter(&f.buf)
	return f
}

func (f *FormData) WriteField(name string, value string) error {
	if err := f.writer.WriteField(name, value); err != nil {
		return fmt.Errorf("failed to write form field %s: %w", name, err)
	}
	return nil
}

func (f *FormData) WriteFile(field string, filename string, r io.Reader) error {
	w, err := f.writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", field, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to write form file %s: %w", field, err)
	}
	return nil
}

func (f *FormData) ContentType() string {
	return f.writer.FormDataContentType()
}

// Finish the body, no fields may be written after
func (f *FormData) reader() (io.Reader, error) {
	if !f.closed {
		if err := f.writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close form: %w", err)
		}
		f.closed = true
	}
	return bytes.NewReader(f.buf.Bytes()), nil
}
