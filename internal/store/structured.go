package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"portablebrain/internal/types"
)

// StructuredObservation is the wide observation row: the memory_type
// discriminator plus every variant's fields, null where inapplicable.
type StructuredObservation struct {
	ID               string           `json:"id"`
	MemoryType       types.MemoryType `json:"memory_type"`
	NodeContent      string           `json:"node_content"`
	EdgeType         string           `json:"edge_type,omitempty"`
	SourceEntityID   string           `json:"source_entity_id,omitempty"`
	SourceEntityType string           `json:"source_entity_type,omitempty"`
	TargetEntityID   string           `json:"target_entity_id,omitempty"`
	TargetEntityType string           `json:"target_entity_type,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Importance       float64          `json:"importance"`
	Recurrence       int              `json:"recurrence"`
}

// RankedObservation pairs a row with its full-text search rank.
type RankedObservation struct {
	Row  StructuredObservation `json:"row"`
	Rank float64               `json:"rank"`
}

// rowFromObservation maps the tagged union onto the wide row. People
// observations hang off the user node; preferences and content hang off the
// source app.
func rowFromObservation(o *types.Observation) StructuredObservation {
	row := StructuredObservation{
		ID:          o.ID,
		MemoryType:  o.MemoryType,
		NodeContent: o.Node,
		EdgeType:    o.Edge,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Importance:  o.Importance,
		Recurrence:  o.Recurrence,
	}
	switch o.MemoryType {
	case types.LongTermPeople:
		row.SourceEntityID = "me"
		row.SourceEntityType = "user"
		row.TargetEntityID = o.TargetID
		row.TargetEntityType = "person"
	case types.ShortTermContent:
		row.SourceEntityID = o.SourceID
		row.SourceEntityType = "app"
		row.TargetEntityID = o.ContentID
		row.TargetEntityType = "content"
	default:
		row.SourceEntityID = o.SourceID
		row.SourceEntityType = "app"
	}
	return row
}

// SaveObservation upserts the observation's structured row. An update of an
// existing id (the tracker's in-place node update) overwrites rather than
// duplicates.
func (s *Store) SaveObservation(ctx context.Context, o *types.Observation) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid observation: %w", err)
	}
	row := rowFromObservation(o)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (
			id, memory_type, node_content, edge_type,
			source_entity_id, source_entity_type, target_entity_id, target_entity_type,
			created_at, updated_at, importance, recurrence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			node_content = excluded.node_content,
			updated_at = excluded.updated_at,
			importance = excluded.importance,
			recurrence = excluded.recurrence`,
		row.ID, string(row.MemoryType), row.NodeContent, nullable(row.EdgeType),
		nullable(row.SourceEntityID), nullable(row.SourceEntityType),
		nullable(row.TargetEntityID), nullable(row.TargetEntityType),
		row.CreatedAt.UTC(), row.UpdatedAt.UTC(), row.Importance, row.Recurrence,
	)
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}
	return nil
}

// ObservationsByMemoryType returns rows of one memory type, optionally
// narrowed to a source or target entity, newest first.
func (s *Store) ObservationsByMemoryType(ctx context.Context, memoryType types.MemoryType, sourceEntityID, targetEntityID string, limit int) ([]StructuredObservation, error) {
	if limit <= 0 {
		limit = 10
	}
	query := selectObservations + ` WHERE memory_type = ?`
	args := []any{string(memoryType)}
	if sourceEntityID != "" {
		query += ` AND source_entity_id = ?`
		args = append(args, sourceEntityID)
	}
	if targetEntityID != "" {
		query += ` AND target_entity_id = ?`
		args = append(args, targetEntityID)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	return s.queryObservations(ctx, query, args...)
}

// ObservationsByEntity returns rows referencing the entity as either source
// or target, across memory types.
func (s *Store) ObservationsByEntity(ctx context.Context, entityID, entityType string, limit int) ([]StructuredObservation, error) {
	if limit <= 0 {
		limit = 10
	}
	query := selectObservations + ` WHERE (source_entity_id = ? OR target_entity_id = ?)`
	args := []any{entityID, entityID}
	if entityType != "" {
		query += ` AND (source_entity_type = ? OR target_entity_type = ?)`
		args = append(args, entityType, entityType)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	return s.queryObservations(ctx, query, args...)
}

// SearchObservations runs a full-text query over node_content and returns
// (row, rank) pairs, best match first. FTS5 bm25 rank is negative with more
// negative meaning more relevant; it is surfaced as-is.
func (s *Store) SearchObservations(ctx context.Context, query string, memoryType types.MemoryType, limit int) ([]RankedObservation, error) {
	if limit <= 0 {
		limit = 10
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT o.id, o.memory_type, o.node_content, o.edge_type,
		       o.source_entity_id, o.source_entity_type, o.target_entity_id, o.target_entity_type,
		       o.created_at, o.updated_at, o.importance, o.recurrence,
		       f.rank
		FROM observations_fts f
		JOIN observations o ON o.rowid = f.rowid
		WHERE observations_fts MATCH ?`
	args := []any{match}
	if memoryType != "" {
		sqlQuery += ` AND o.memory_type = ?`
		args = append(args, string(memoryType))
	}
	sqlQuery += ` ORDER BY f.rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	defer rows.Close()

	var out []RankedObservation
	for rows.Next() {
		var r RankedObservation
		if err := scanObservation(rows, &r.Row, &r.Rank); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopRelevantObservations returns rows ranked by importance * recurrence.
func (s *Store) TopRelevantObservations(ctx context.Context, memoryType types.MemoryType, limit int) ([]StructuredObservation, error) {
	if limit <= 0 {
		limit = 10
	}
	query := selectObservations
	args := []any{}
	if memoryType != "" {
		query += ` WHERE memory_type = ?`
		args = append(args, string(memoryType))
	}
	query += ` ORDER BY importance * recurrence DESC, updated_at DESC LIMIT ?`
	args = append(args, limit)

	return s.queryObservations(ctx, query, args...)
}

const selectObservations = `
	SELECT id, memory_type, node_content, edge_type,
	       source_entity_id, source_entity_type, target_entity_id, target_entity_type,
	       created_at, updated_at, importance, recurrence
	FROM observations`

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]StructuredObservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("observation query failed: %w", err)
	}
	defer rows.Close()

	var out []StructuredObservation
	for rows.Next() {
		var row StructuredObservation
		if err := scanObservation(rows, &row, nil); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanObservation(rows *sql.Rows, row *StructuredObservation, rank *float64) error {
	var memoryType string
	var edge, srcID, srcType, tgtID, tgtType sql.NullString
	dest := []any{
		&row.ID, &memoryType, &row.NodeContent, &edge,
		&srcID, &srcType, &tgtID, &tgtType,
		&row.CreatedAt, &row.UpdatedAt, &row.Importance, &row.Recurrence,
	}
	if rank != nil {
		dest = append(dest, rank)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan observation: %w", err)
	}
	row.MemoryType = types.MemoryType(memoryType)
	row.EdgeType = edge.String
	row.SourceEntityID = srcID.String
	row.SourceEntityType = srcType.String
	row.TargetEntityID = tgtID.String
	row.TargetEntityType = tgtType.String
	return nil
}

// ftsQuery sanitizes free text into an FTS5 match expression: bare terms
// quoted and ANDed, so user punctuation cannot break the query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		f = strings.ReplaceAll(f, `"`, ``)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
