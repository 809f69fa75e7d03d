package schema

import (
	"fmt"
	"strings"
)

type Granularity string

const (
	GranularityTable  Granularity = "table"
	GranularityColumn Granularity = "column"

	DefaultMaxColumnsPerChunk = 40
	// DefaultMaxWordsPerChunk matches the embedding client's default input
	// limit.
	DefaultMaxWordsPerChunk = 256
)

const (
	KindTable  = "table"
	KindColumn = "column"
)

// Chunk is one retrievable unit of schema text before embedding.
type Chunk struct {
	SourceTable string
	Key         string
	Kind        string
	Text        string
	Metadata    map[string]string
}

// Chunker splits documents into chunks. No chunk exceeds MaxWordsPerChunk
// whitespace separated words, counted the way the embedding client counts
// them.
type Chunker struct {
	Granularity        Granularity
	MaxColumnsPerChunk int
	MaxWordsPerChunk   int
}

func NewChunker(granularity string, maxColumns, maxWords int) (Chunker, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(granularity)))
	switch g {
	case "":
		g = GranularityTable
	case GranularityTable, GranularityColumn:
	default:
		return Chunker{}, fmt.Errorf("unsupported chunk granularity %q", granularity)
	}
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumnsPerChunk
	}
	if maxWords <= 0 {
		maxWords = DefaultMaxWordsPerChunk
	}
	return Chunker{Granularity: g, MaxColumnsPerChunk: maxColumns, MaxWordsPerChunk: maxWords}, nil
}

// Chunk renders doc into chunks. Output is a pure function of the document:
// tables follow schema.name order and columns keep document order.
func (c Chunker) Chunk(doc Document) ([]Chunk, error) {
	normalized, err := doc.Normalize()
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(normalized))
	for _, table := range normalized {
		if c.Granularity == GranularityColumn {
			chunks = append(chunks, c.columnChunks(table)...)
			continue
		}
		chunks = append(chunks, c.tableChunks(table)...)
	}
	return chunks, nil
}

func (c Chunker) wordBudget() int {
	if c.MaxWordsPerChunk <= 0 {
		return DefaultMaxWordsPerChunk
	}
	return c.MaxWordsPerChunk
}

// tableChunks packs column lines into parts bounded by both the column
// limit and the word budget. The header is sized as if it carried a
// "(part i/N)" label so the label never pushes a part over budget.
func (c Chunker) tableChunks(table Table) []Chunk {
	maxColumns := c.MaxColumnsPerChunk
	if maxColumns <= 0 {
		maxColumns = DefaultMaxColumnsPerChunk
	}
	budget := c.wordBudget()

	description := table.Description
	fixed := wordCount("Table "+table.QualifiedName()+" (part 1/1). Columns:")
	if fixed+wordCount(description) > budget/2 {
		description = truncateWords(description, budget/2-fixed)
	}
	room := max(budget-fixed-wordCount(description), 1)
	groups := packColumns(table.Columns, maxColumns, room)
	parts := len(groups)

	chunks := make([]Chunk, 0, parts)
	for part, lines := range groups {
		var b strings.Builder
		b.WriteString("Table ")
		b.WriteString(table.QualifiedName())
		key := KindTable
		if parts > 1 {
			fmt.Fprintf(&b, " (part %d/%d)", part+1, parts)
			key = fmt.Sprintf("%s:%d", KindTable, part+1)
		}
		b.WriteString(".")
		if description != "" {
			b.WriteString(" ")
			b.WriteString(description)
		}
		b.WriteString("\nColumns:")
		if len(lines) == 0 {
			b.WriteString(" (none)")
		}
		for _, line := range lines {
			b.WriteString("\n")
			b.WriteString(line)
		}

		metadata := map[string]string{
			"kind":   KindTable,
			"schema": table.Schema,
			"table":  table.Name,
		}
		if parts > 1 {
			metadata["part"] = fmt.Sprintf("%d/%d", part+1, parts)
		}
		chunks = append(chunks, Chunk{
			SourceTable: table.QualifiedName(),
			Key:         key,
			Kind:        KindTable,
			Text:        b.String(),
			Metadata:    metadata,
		})
	}
	return chunks
}

func (c Chunker) columnChunks(table Table) []Chunk {
	budget := c.wordBudget()
	names := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		names = append(names, column.Name)
	}
	summary := fmt.Sprintf("Table %s. Columns: %s", table.QualifiedName(), strings.Join(names, ", "))
	if table.Description != "" {
		summary += ". " + table.Description
	}

	chunks := make([]Chunk, 0, len(table.Columns)+1)
	chunks = append(chunks, Chunk{
		SourceTable: table.QualifiedName(),
		Key:         KindTable,
		Kind:        KindTable,
		Text:        truncateWords(summary, budget),
		Metadata: map[string]string{
			"kind":   KindTable,
			"schema": table.Schema,
			"table":  table.Name,
		},
	})
	for _, column := range table.Columns {
		chunks = append(chunks, Chunk{
			SourceTable: table.QualifiedName(),
			Key:         KindColumn + ":" + column.Name,
			Kind:        KindColumn,
			Text: truncateWords(fmt.Sprintf("Column %s.%s type %s nullable=%s default=%s desc=%s",
				table.QualifiedName(), column.Name, orNone(column.DataType), orNone(column.IsNullable),
				orNone(column.Default), orNone(column.Description)), budget),
			Metadata: map[string]string{
				"kind":   KindColumn,
				"schema": table.Schema,
				"table":  table.Name,
				"column": column.Name,
			},
		})
	}
	return chunks
}

// packColumns groups rendered column lines so each group holds at most
// maxColumns lines and room words. A line longer than room is truncated.
func packColumns(columns []Column, maxColumns, room int) [][]string {
	var groups [][]string
	var current []string
	used := 0
	for _, column := range columns {
		line := "- " + describeColumn(column)
		words := wordCount(line)
		if words > room {
			line, words = truncateWords(line, room), room
		}
		if len(current) > 0 && (len(current) == maxColumns || used+words > room) {
			groups = append(groups, current)
			current, used = nil, 0
		}
		current = append(current, line)
		used += words
	}
	if len(current) > 0 || len(groups) == 0 {
		groups = append(groups, current)
	}
	return groups
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// truncateWords keeps the first n words. Text within the limit is returned
// unchanged.
func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	if n <= 0 {
		return ""
	}
	return strings.Join(words[:n], " ")
}

func describeColumn(column Column) string {
	attrs := []string{orNone(column.DataType)}
	switch column.IsNullable {
	case "NO", "FALSE":
		attrs = append(attrs, "not null")
	case "YES", "TRUE":
		attrs = append(attrs, "nullable")
	}
	if column.Default != "" {
		attrs = append(attrs, "default "+column.Default)
	}
	line := column.Name + " (" + strings.Join(attrs, ", ") + ")"
	if column.Description != "" {
		line += ": " + column.Description
	}
	return line
}

func orNone(value string) string {
	if value == "" {
		return "none"
	}
	return value
}
