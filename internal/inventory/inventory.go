package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"alertresolver/internal/domain"
)

// document is the on-disk inventory layout.
type document struct {
	Connectors []domain.ConnectorConfig `yaml:"connectors"`
}

// File reads the connector inventory from a YAML file on every call.
// Params: file path.
// Returns: connector list provider for the scheduler.
type File struct {
	path string
}

// NewFile creates file-backed inventory.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns inventory file path.
func (f *File) Path() string {
	return f.path
}

// Connectors loads and validates the inventory.
// Params: context checked before the read.
// Returns: connectors in file order or read/validation error.
func (f *File) Connectors(ctx context.Context) ([]domain.ConnectorConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read inventory %s: %w", f.path, err)
	}
	connectors, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", f.path, err)
	}
	return connectors, nil
}

// Parse decodes a YAML inventory document.
// Params: raw YAML with a top-level connectors list.
// Returns: trimmed connectors or decode/validation error.
func Parse(body []byte) ([]domain.ConnectorConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(body))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	seen := make(map[string]int, len(doc.Connectors))
	for i := range doc.Connectors {
		connector := &doc.Connectors[i]
		connector.SiteID = strings.TrimSpace(connector.SiteID)
		connector.ConnectorID = strings.TrimSpace(connector.ConnectorID)
		connector.ConnectorName = strings.TrimSpace(connector.ConnectorName)
		connector.ConnectionType = strings.TrimSpace(connector.ConnectionType)

		if connector.SiteID == "" || connector.ConnectorID == "" {
			return nil, fmt.Errorf("connectors[%d]: site_id and connector_id are required", i)
		}
		if connector.IntervalSeconds < 0 {
			return nil, fmt.Errorf("connectors[%d]: interval_sec must be >= 0", i)
		}
		identity := connector.SiteID + "/" + connector.ConnectorID
		if first, ok := seen[identity]; ok {
			return nil, fmt.Errorf("connectors[%d]: duplicates connectors[%d] (%s)", i, first, identity)
		}
		seen[identity] = i
	}
	return doc.Connectors, nil
}
