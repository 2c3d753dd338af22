// Package persistence writes dispatch reports to disk, with support for
// different serialization formats.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	indent = "    " // Default indentation for JSON output (4 spaces)
	prefix = ""     // Default prefix for JSON output
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// WriteJSONToFile persists data as JSON to a destination using the provided Serializer and Writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}

	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON persists data as JSON to a file with default settings (overwrite enabled, 4-space indent).
func WriteJSON(data any, filename string) error {
	serializer := JSONSerializer{Prefix: prefix, Indent: indent}
	writer := FileWriter{Overwrite: true}
	return WriteJSONToFile(data, filename, serializer, writer)
}

// ReportStore keeps one JSON file per dispatch in Dir.
type ReportStore struct {
	Dir        string
	Serializer Serializer
	Writer     Writer
}

func NewReportStore(dir string) *ReportStore {
	return &ReportStore{
		Dir:        dir,
		Serializer: JSONSerializer{Prefix: prefix, Indent: indent},
		Writer:     FileWriter{Overwrite: false},
	}
}

// Path returns where the report with id is stored.
func (s *ReportStore) Path(id uuid.UUID) string {
	return filepath.Join(s.Dir, id.String()+".json")
}

// Save writes report under id. Reports are never overwritten.
func (s *ReportStore) Save(id uuid.UUID, report any) error {
	if id == uuid.Nil {
		return fmt.Errorf("report id is required: %w", os.ErrInvalid)
	}
	return WriteJSONToFile(report, s.Path(id), s.Serializer, s.Writer)
}

// Load reads the report stored under id into out.
func (s *ReportStore) Load(id uuid.UUID, out any) error {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
