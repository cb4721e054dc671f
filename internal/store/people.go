package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Person is one interpersonal-relationship row. Written by external
// ingestion; the core treats it as read-mostly.
type Person struct {
	ID                      string     `json:"id"`
	FirstName               string     `json:"first_name"`
	LastName                string     `json:"last_name,omitempty"`
	FullName                string     `json:"full_name"`
	Platform                string     `json:"platform,omitempty"`
	PlatformHandle          string     `json:"platform_handle,omitempty"`
	RelationshipDescription string     `json:"relationship_description"`
	RelationshipVector      []float32  `json:"-"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	LastInteractedAt        *time.Time `json:"last_interacted_at,omitempty"`
	InteractionCount        int        `json:"interaction_count"`
}

// PersonNameMatch is one fuzzy name-lookup hit.
type PersonNameMatch struct {
	FullName    string  `json:"full_name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// SimilarPerson pairs a person row with its vector distance to the query.
type SimilarPerson struct {
	Row      Person  `json:"row"`
	Distance float64 `json:"distance"`
}

// SavePerson upserts one person row.
func (s *Store) SavePerson(ctx context.Context, p Person) error {
	if p.ID == "" || p.FullName == "" {
		return fmt.Errorf("person row needs id and full_name")
	}
	var vec any
	if len(p.RelationshipVector) > 0 {
		vec = EncodeVector(p.RelationshipVector)
	}
	var lastAt any
	if p.LastInteractedAt != nil {
		lastAt = p.LastInteractedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interpersonal_relationships (
			id, first_name, last_name, full_name, platform, platform_handle,
			relationship_description, relationship_vector,
			created_at, updated_at, last_interacted_at, interaction_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			relationship_description = excluded.relationship_description,
			relationship_vector = excluded.relationship_vector,
			updated_at = excluded.updated_at,
			last_interacted_at = excluded.last_interacted_at,
			interaction_count = excluded.interaction_count`,
		p.ID, p.FirstName, nullable(p.LastName), p.FullName,
		nullable(p.Platform), nullable(p.PlatformHandle),
		p.RelationshipDescription, vec,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(), lastAt, p.InteractionCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save person: %w", err)
	}
	return nil
}

// PersonByID looks up one person row. Returns ErrNotFound when absent.
func (s *Store) PersonByID(ctx context.Context, id string) (*Person, error) {
	row := s.db.QueryRowContext(ctx, selectPeople+` WHERE id = ?`, id)
	p, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindPeopleByName fuzzy-matches full_name by trigram similarity, returning
// matches with score >= threshold ordered by descending score.
func (s *Store) FindPeopleByName(ctx context.Context, name string, threshold float64, limit int) ([]PersonNameMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT full_name, relationship_description FROM interpersonal_relationships`)
	if err != nil {
		return nil, fmt.Errorf("people scan failed: %w", err)
	}
	defer rows.Close()

	var matches []PersonNameMatch
	for rows.Next() {
		var fullName, description string
		if err := rows.Scan(&fullName, &description); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		score := TrigramSimilarity(name, fullName)
		if score >= threshold && score > 0 {
			matches = append(matches, PersonNameMatch{FullName: fullName, Description: description, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindSimilarPeople returns the k people whose relationship_vector is
// nearest to the query under cosine distance, ascending.
func (s *Store) FindSimilarPeople(ctx context.Context, queryVec []float32, limit int) ([]SimilarPerson, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, selectPeople+` WHERE relationship_vector IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("people scan failed: %w", err)
	}
	defer rows.Close()

	var results []SimilarPerson
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		if len(p.RelationshipVector) != len(queryVec) {
			continue
		}
		results = append(results, SimilarPerson{
			Row:      *p,
			Distance: 1 - cosine(queryVec, p.RelationshipVector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

const selectPeople = `
	SELECT id, first_name, last_name, full_name, platform, platform_handle,
	       relationship_description, relationship_vector,
	       created_at, updated_at, last_interacted_at, interaction_count
	FROM interpersonal_relationships`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(r rowScanner) (*Person, error) {
	var p Person
	var lastName, platform, handle sql.NullString
	var vec []byte
	var lastAt sql.NullTime
	err := r.Scan(
		&p.ID, &p.FirstName, &lastName, &p.FullName, &platform, &handle,
		&p.RelationshipDescription, &vec,
		&p.CreatedAt, &p.UpdatedAt, &lastAt, &p.InteractionCount,
	)
	if err != nil {
		return nil, err
	}
	p.LastName = lastName.String
	p.Platform = platform.String
	p.PlatformHandle = handle.String
	if lastAt.Valid {
		t := lastAt.Time
		p.LastInteractedAt = &t
	}
	if len(vec) > 0 {
		v, err := DecodeVector(vec)
		if err != nil {
			return nil, err
		}
		p.RelationshipVector = v
	}
	return &p, nil
}
