package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultSchemaName = "public"

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var ErrUnsupportedFormat = errors.New("unsupported schema document format")

// Column mirrors one information_schema.columns row.
type Column struct {
	Name        string `json:"column_name" yaml:"column_name"`
	DataType    string `json:"data_type" yaml:"data_type"`
	IsNullable  string `json:"is_nullable,omitempty" yaml:"is_nullable,omitempty"`
	Default     string `json:"column_default,omitempty" yaml:"column_default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Table struct {
	Schema      string   `json:"table_schema" yaml:"table_schema"`
	Name        string   `json:"table_name" yaml:"table_name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Columns     []Column `json:"columns" yaml:"columns"`
}

func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Document is a schema description: the tables of one schema source.
type Document []Table

// FormatFromName picks a decoder from a file name or object key extension.
func FormatFromName(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// FormatFromContentType maps an HTTP Content-Type onto a decoder.
func FormatFromContentType(contentType string) Format {
	if strings.Contains(strings.ToLower(contentType), "yaml") {
		return FormatYAML
	}
	return FormatJSON
}

func Decode(r io.Reader, format Format) (Document, error) {
	switch format {
	case FormatJSON, "":
		return DecodeJSON(r)
	case FormatYAML:
		return DecodeYAML(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func DecodeJSON(r io.Reader) (Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	var doc Document
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema json: %w", err)
	}
	return doc.Normalize()
}

func DecodeYAML(r io.Reader) (Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("decode schema yaml: %w", err)
	}
	return doc.Normalize()
}

// Normalize trims names, fills the default schema, sorts tables by
// schema.name and rejects unnamed tables, duplicate tables and duplicate
// column names within a table. Column order is kept.
func (d Document) Normalize() (Document, error) {
	out := make(Document, 0, len(d))
	seen := make(map[string]struct{}, len(d))
	for i, table := range d {
		table.Schema = strings.TrimSpace(table.Schema)
		if table.Schema == "" {
			table.Schema = DefaultSchemaName
		}
		table.Name = strings.TrimSpace(table.Name)
		if table.Name == "" {
			return nil, fmt.Errorf("table %d: table_name is required", i)
		}
		if _, dup := seen[table.QualifiedName()]; dup {
			return nil, fmt.Errorf("table %s: duplicate definition", table.QualifiedName())
		}
		seen[table.QualifiedName()] = struct{}{}

		columns := make([]Column, 0, len(table.Columns))
		names := make(map[string]struct{}, len(table.Columns))
		for j, column := range table.Columns {
			column.Name = strings.TrimSpace(column.Name)
			if column.Name == "" {
				return nil, fmt.Errorf("table %s column %d: column_name is required", table.QualifiedName(), j)
			}
			if _, dup := names[column.Name]; dup {
				return nil, fmt.Errorf("table %s: duplicate column %q", table.QualifiedName(), column.Name)
			}
			names[column.Name] = struct{}{}
			column.DataType = strings.TrimSpace(column.DataType)
			column.IsNullable = strings.ToUpper(strings.TrimSpace(column.IsNullable))
			columns = append(columns, column)
		}
		table.Columns = columns
		out = append(out, table)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out, nil
}

func (d Document) ColumnCount() int {
	total := 0
	for _, table := range d {
		total += len(table.Columns)
	}
	return total
}
