// Package schema owns the point-in-time view of the governed database schema.
// Snapshots are immutable: a refresh builds a new one and swaps it in whole.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Snapshot is an immutable view of one database schema. Version is a content
// hash, so two snapshots of structurally identical schemas share a version
// even when fetched at different times.
type Snapshot struct {
	SchemaName string
	Tables     []Table
	Version    string
	FetchedAt  time.Time
}

func NewSnapshot(schemaName string, tables []Table, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		SchemaName: schemaName,
		Tables:     tables,
		Version:    computeVersion(schemaName, tables),
		FetchedAt:  fetchedAt,
	}
}

func (s *Snapshot) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

// DDL renders the snapshot as CREATE TABLE text for generation prompts.
func (s *Snapshot) DDL() string {
	var b strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "CREATE TABLE %s.%s (\n", s.SchemaName, table.Name)
		var primaryKey []string
		for j, column := range table.Columns {
			fmt.Fprintf(&b, "\t%s %s", column.Name, column.DataType)
			if !column.Nullable {
				b.WriteString(" NOT NULL")
			}
			if column.PrimaryKey {
				primaryKey = append(primaryKey, column.Name)
			}
			if j < len(table.Columns)-1 || len(primaryKey) > 0 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		if len(primaryKey) > 0 {
			fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n", strings.Join(primaryKey, ", "))
		}
		b.WriteString(");\n")
	}
	return b.String()
}

func computeVersion(schemaName string, tables []Table) string {
	h := sha256.New()
	fmt.Fprintf(h, "schema=%s\n", schemaName)
	for _, table := range tables {
		fmt.Fprintf(h, "table=%s\n", table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(h, "column=%s type=%s nullable=%t pk=%t\n",
				column.Name, column.DataType, column.Nullable, column.PrimaryKey)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// FetchError is fatal to a pipeline run: the schema could not be loaded, or
// the configured schema has no tables (treated as misconfiguration).
type FetchError struct {
	Schema string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch schema %q: %v", e.Schema, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
