// Package portability exports mock definitions to a versioned document and
// imports them back, from that document or from an OpenAPI 3 description.
package portability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prasenjit/mockpit/internal/models"
)

// DocumentVersion is the only export format version understood by Import
const DocumentVersion = 1

var (
	// ErrUnsupportedVersion is returned for documents of another version
	ErrUnsupportedVersion = errors.New("invalid or unsupported export format, expected version 1")
	// ErrInvalidDocument is returned for documents that fail to decode
	ErrInvalidDocument = errors.New("invalid import data")
)

// Document is the export format. Collections refer to endpoints by their
// index in Endpoints.
type Document struct {
	Version     int          `json:"version" yaml:"version"`
	ExportedAt  time.Time    `json:"exportedAt" yaml:"exportedAt"`
	Endpoints   []Endpoint   `json:"endpoints" yaml:"endpoints"`
	Collections []Collection `json:"collections" yaml:"collections"`
}

// Endpoint is an exported endpoint without IDs
type Endpoint struct {
	Method                 string    `json:"method" yaml:"method"`
	Path                   string    `json:"path" yaml:"path"`
	Name                   string    `json:"name,omitempty" yaml:"name,omitempty"`
	IsEnabled              *bool     `json:"isEnabled,omitempty" yaml:"isEnabled,omitempty"` // nil means enabled
	RequestBodyContentType string    `json:"requestBodyContentType,omitempty" yaml:"requestBodyContentType,omitempty"`
	RequestBodyRaw         string    `json:"requestBodyRaw,omitempty" yaml:"requestBodyRaw,omitempty"`
	QueryParams            []Row     `json:"queryParams" yaml:"queryParams"`
	RequestHeaders         []Row     `json:"requestHeaders" yaml:"requestHeaders"`
	ResponseVariants       []Variant `json:"responseVariants" yaml:"responseVariants"`
	ActiveVariantIndex     int       `json:"activeVariantIndex" yaml:"activeVariantIndex"`
}

// Row is an exported documentation row
type Row struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	IsEnabled bool   `json:"isEnabled" yaml:"isEnabled"`
	SortOrder int    `json:"sortOrder" yaml:"sortOrder"`
}

// Variant is an exported response variant
type Variant struct {
	StatusCode  int                `json:"statusCode" yaml:"statusCode"`
	Description string             `json:"description" yaml:"description"`
	Body        string             `json:"body" yaml:"body"`
	Headers     string             `json:"headers" yaml:"headers"`
	Delay       *int               `json:"delay" yaml:"delay"`
	Memo        string             `json:"memo" yaml:"memo"`
	SortOrder   int                `json:"sortOrder" yaml:"sortOrder"`
	MatchRules  *models.MatchRules `json:"matchRules,omitempty" yaml:"matchRules,omitempty"`
}

// Collection is an exported collection
type Collection struct {
	Name            string `json:"name" yaml:"name"`
	SortOrder       int    `json:"sortOrder" yaml:"sortOrder"`
	EndpointIndices []int  `json:"endpointIndices" yaml:"endpointIndices"`
}

// Validate checks the version of the document
func (d *Document) Validate() error {
	if d == nil || d.Version != DocumentVersion {
		return ErrUnsupportedVersion
	}
	return nil
}

// Format selects the encoding of an exported document
type Format string

// Supported formats
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name. An empty name means JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q", name)
	}
}

// ContentType returns the media type of the format
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Encode writes the document in the given format
func Encode(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	}
}

// Decode reads a document in JSON or YAML and validates its version
func Decode(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document: %w", ErrInvalidDocument)
	}

	var doc Document
	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &doc)
	} else {
		err = yaml.Unmarshal(trimmed, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
