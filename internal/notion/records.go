package notion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

// DefaultSearchLimit caps free-text search results.
const DefaultSearchLimit = 5

// untitled labels pages whose title is empty.
const untitled = "Sans titre"

// RecordStore translates drafts to and from a Notion database.
type RecordStore struct {
	client     *Client
	databaseID string
	mapping    Mapping
	now        func() time.Time
}

// NewRecordStore creates a RecordStore for databaseID using mapping.
func NewRecordStore(client *Client, databaseID string, mapping Mapping) *RecordStore {
	return &RecordStore{
		client:     client,
		databaseID: databaseID,
		mapping:    mapping,
		now:        time.Now,
	}
}

// Mapping returns the field mapping of the store.
func (s *RecordStore) Mapping() Mapping {
	return s.mapping
}

// VerifySchema compares the remote database schema with the mapping. The
// error is non-nil only when the schema could not be fetched.
func (s *RecordStore) VerifySchema(ctx context.Context) ([]Mismatch, error) {
	db, err := s.client.RetrieveDatabase(ctx, s.databaseID)
	if err != nil {
		return nil, fmt.Errorf("verify schema: %w", err)
	}
	mismatches := s.mapping.Compare(*db)
	if len(mismatches) == 0 {
		slog.Info("RecordStore VerifySchema: schema matches", "database_id", s.databaseID, "properties", len(s.mapping.Fields))
	}
	return mismatches, nil
}

// Create writes a new page from draft. Required fields must be present;
// create-only properties get their defaults.
func (s *RecordStore) Create(ctx context.Context, draft models.Draft) (models.RecordRef, error) {
	props := make(map[string]PropertyValue)
	var missing []string
	for _, spec := range s.mapping.Fields {
		value := strings.TrimSpace(draft.Get(spec.Field))
		if spec.Field == fieldDateAdded && value == "" {
			value = dateValue(s.now())
		}
		if value == "" {
			value = spec.Default
		}
		if value == "" {
			if spec.Required {
				missing = append(missing, spec.Field)
			}
			continue
		}
		props[spec.Property] = valueFor(spec, value)
	}
	if len(missing) > 0 {
		return models.RecordRef{}, fmt.Errorf("create record: missing required fields %s", strings.Join(missing, ", "))
	}

	page, err := s.client.CreatePage(ctx, s.databaseID, props)
	if err != nil {
		return models.RecordRef{}, fmt.Errorf("create record: %w", err)
	}
	slog.Info("RecordStore Create succeeded", "page_id", page.ID, "properties", len(props))
	return models.RecordRef{ID: page.ID, URL: page.URL}, nil
}

// Update merges draft into an existing page. Only fields present and
// non-empty in the draft are written; absent or empty fields leave the remote
// value untouched, and values equal to the remote ones are skipped. Nothing
// is ever cleared. Create-only properties are never written.
func (s *RecordStore) Update(ctx context.Context, pageID string, draft models.Draft) (models.RecordRef, error) {
	page, err := s.client.RetrievePage(ctx, pageID)
	if err != nil {
		return models.RecordRef{}, fmt.Errorf("update record: %w", err)
	}

	props := s.mergeProperties(page, draft)
	if len(props) == 0 {
		slog.Info("RecordStore Update: nothing to change", "page_id", pageID)
		return models.RecordRef{ID: page.ID, URL: page.URL}, nil
	}

	updated, err := s.client.UpdatePage(ctx, pageID, props)
	if err != nil {
		return models.RecordRef{}, fmt.Errorf("update record: %w", err)
	}
	slog.Info("RecordStore Update succeeded", "page_id", pageID, "properties", len(props))
	ref := models.RecordRef{ID: updated.ID, URL: updated.URL}
	if ref.ID == "" {
		ref.ID = page.ID
	}
	if ref.URL == "" {
		ref.URL = page.URL
	}
	return ref, nil
}

func (s *RecordStore) mergeProperties(page *Page, draft models.Draft) map[string]PropertyValue {
	props := make(map[string]PropertyValue)
	for _, spec := range s.mapping.Fields {
		if spec.CreateOnly {
			continue
		}
		value := strings.TrimSpace(draft.Get(spec.Field))
		if value == "" {
			continue
		}
		next := valueFor(spec, value)
		if current, ok := page.Properties[spec.Property]; ok && current.HasContent() &&
			current.PlainText() == next.PlainText() {
			continue
		}
		props[spec.Property] = next
	}
	return props
}

// QueryCandidates returns up to limit pages matching filter, in the order
// the database returns them.
func (s *RecordStore) QueryCandidates(ctx context.Context, filter Filter, limit int) ([]models.MatchCandidate, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	resp, err := s.client.QueryDatabase(ctx, s.databaseID, QueryRequest{Filter: &filter, PageSize: limit})
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	out := make([]models.MatchCandidate, 0, len(resp.Results))
	for _, p := range resp.Results {
		if p.Archived {
			continue
		}
		out = append(out, models.MatchCandidate{ID: p.ID, Title: s.pageTitle(p), URL: p.URL})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Search runs a case-insensitive substring search over the searchable
// properties. An empty query returns no results without calling Notion.
func (s *RecordStore) Search(ctx context.Context, query string, limit int) ([]models.MatchCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	var conds []Filter
	for _, spec := range s.mapping.Fields {
		if spec.Searchable {
			conds = append(conds, Contains(spec, query))
		}
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("search records: mapping has no searchable property")
	}
	return s.QueryCandidates(ctx, Or(conds...), limit)
}

func (s *RecordStore) pageTitle(p Page) string {
	if spec, ok := s.mapping.Title(); ok {
		if v, ok := p.Properties[spec.Property]; ok {
			if t := strings.TrimSpace(v.PlainText()); t != "" {
				return t
			}
		}
	}
	return untitled
}
