// Package dedup finds existing records that a new draft may duplicate.
//
// Two independently sufficient criteria are combined with OR: an exact email
// match, and an exact match on name AND city together. A name match in
// another city is not a duplicate.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/notion"
)

// DefaultLimit caps the number of candidates fetched.
const DefaultLimit = 5

// Querier runs a filter against the record store.
type Querier interface {
	QueryCandidates(ctx context.Context, filter notion.Filter, limit int) ([]models.MatchCandidate, error)
}

// BuildFilter returns the duplicate query for the given draft values. The
// second return value is false when no criterion applies.
func BuildFilter(m notion.Mapping, email, name, city string) (notion.Filter, bool) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	city = strings.TrimSpace(city)

	var criteria []notion.Filter
	if spec, ok := m.Spec(models.FieldEmail); ok && email != "" {
		criteria = append(criteria, notion.Equals(spec, email))
	}
	nameSpec, okName := m.Spec(models.FieldName)
	citySpec, okCity := m.Spec(models.FieldCity)
	if okName && okCity && name != "" && city != "" {
		criteria = append(criteria, notion.And(notion.Equals(nameSpec, name), notion.Equals(citySpec, city)))
	}
	if len(criteria) == 0 {
		return notion.Filter{}, false
	}
	return notion.Or(criteria...), true
}

// Resolver looks up duplicate candidates.
type Resolver struct {
	querier Querier
	mapping notion.Mapping
	limit   int
}

// NewResolver creates a Resolver querying through q with mapping m.
func NewResolver(q Querier, m notion.Mapping) *Resolver {
	return &Resolver{querier: q, mapping: m, limit: DefaultLimit}
}

// FindCandidates returns the records matching the draft values, in store
// order. It returns nil without querying when no criterion applies.
func (r *Resolver) FindCandidates(ctx context.Context, email, name, city string) ([]models.MatchCandidate, error) {
	filter, ok := BuildFilter(r.mapping, email, name, city)
	if !ok {
		slog.Debug("Resolver FindCandidates: no applicable criterion")
		return nil, nil
	}
	candidates, err := r.querier.QueryCandidates(ctx, filter, r.limit)
	if err != nil {
		return nil, fmt.Errorf("find duplicate candidates: %w", err)
	}
	slog.Debug("Resolver FindCandidates", "candidates", len(candidates))
	return candidates, nil
}
