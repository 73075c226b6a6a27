package notion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeNotion is an in-memory stand-in for the Notion API used by the tests.
type fakeNotion struct {
	t          *testing.T
	databaseID string
	schema     Database

	mu       sync.Mutex
	pages    []*Page
	nextID   int
	patches  []map[string]PropertyValue
	queries  []QueryRequest
	requests []string
	failWith int
}

func newFakeNotion(t *testing.T, schema Database) (*fakeNotion, *httptest.Server) {
	t.Helper()
	f := &fakeNotion{t: t, databaseID: "db-1", schema: schema}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

// schemaFor builds a database schema matching a mapping.
func schemaFor(m Mapping) Database {
	db := Database{ID: "db-1", Properties: map[string]PropertySchema{}}
	for _, f := range m.Fields {
		ps := PropertySchema{Name: f.Property, Type: f.Type}
		if f.Type == TypeSelect {
			ps.Select = &SelectSchema{}
			for _, o := range f.Options {
				ps.Select.Options = append(ps.Select.Options, SelectOption{Name: o})
			}
		}
		db.Properties[f.Property] = ps
	}
	return db
}

func (f *fakeNotion) addPage(props map[string]string) *Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(f.typed(props))
}

func (f *fakeNotion) typed(props map[string]string) map[string]PropertyValue {
	out := make(map[string]PropertyValue)
	for name, v := range props {
		ps, ok := f.schema.Properties[name]
		if !ok {
			f.t.Fatalf("fake notion: unknown property %q", name)
		}
		out[name] = valueFor(FieldSpec{Property: name, Type: ps.Type}, v)
	}
	return out
}

func (f *fakeNotion) insert(props map[string]PropertyValue) *Page {
	f.nextID++
	id := fmt.Sprintf("page-%d", f.nextID)
	p := &Page{ID: id, URL: "https://www.notion.so/" + id, Properties: props}
	f.pages = append(f.pages, p)
	return p
}

func (f *fakeNotion) page(id string) *Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pages {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func plainValues(p *Page) map[string]string {
	out := make(map[string]string)
	for name, v := range p.Properties {
		out[name] = v.PlainText()
	}
	return out
}

func (f *fakeNotion) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("Notion-Version") != APIVersion {
		fakeError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
		return
	}
	if f.failWith != 0 {
		fakeError(w, f.failWith, "internal_server_error", "boom")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1")
	switch {
	case r.Method == http.MethodGet && path == "/databases/"+f.databaseID:
		writeFake(w, http.StatusOK, f.schema)

	case r.Method == http.MethodPost && path == "/databases/"+f.databaseID+"/query":
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fakeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		f.queries = append(f.queries, req)
		resp := QueryResponse{Results: []Page{}}
		for _, p := range f.pages {
			if req.Filter == nil || req.Filter.Matches(plainValues(p)) {
				resp.Results = append(resp.Results, *p)
			}
			if req.PageSize > 0 && len(resp.Results) == req.PageSize {
				resp.HasMore = true
				break
			}
		}
		writeFake(w, http.StatusOK, resp)

	case r.Method == http.MethodPost && path == "/pages":
		var req struct {
			Parent struct {
				DatabaseID string `json:"database_id"`
			} `json:"parent"`
			Properties map[string]PropertyValue `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Parent.DatabaseID != f.databaseID {
			fakeError(w, http.StatusBadRequest, "validation_error", "bad create")
			return
		}
		writeFake(w, http.StatusOK, f.insert(req.Properties))

	case strings.HasPrefix(path, "/pages/"):
		id := strings.TrimPrefix(path, "/pages/")
		var page *Page
		for _, p := range f.pages {
			if p.ID == id {
				page = p
			}
		}
		if page == nil {
			fakeError(w, http.StatusNotFound, "object_not_found", "Could not find page")
			return
		}
		if r.Method == http.MethodPatch {
			var req struct {
				Properties map[string]PropertyValue `json:"properties"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				fakeError(w, http.StatusBadRequest, "validation_error", err.Error())
				return
			}
			f.patches = append(f.patches, req.Properties)
			for name, v := range req.Properties {
				page.Properties[name] = v
			}
		}
		writeFake(w, http.StatusOK, page)

	default:
		fakeError(w, http.StatusNotFound, "invalid_request_url", "unknown route")
	}
}

func writeFake(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fakeError(w http.ResponseWriter, status int, code, message string) {
	writeFake(w, status, map[string]interface{}{"object": "error", "status": status, "code": code, "message": message})
}

// MarshalJSON renders a property value the way the pages API returns it.
func (p PropertyValue) MarshalJSON() ([]byte, error) {
	var v interface{}
	switch p.Type {
	case TypeTitle:
		v = nonNilText(p.Title)
	case TypeRichText:
		v = nonNilText(p.RichText)
	case TypeEmail:
		v = p.Email
	case TypePhoneNumber:
		v = p.PhoneNumber
	case TypeSelect:
		v = p.Select
	case TypeDate:
		v = p.Date
	default:
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}{"type": p.Type, string(p.Type): v})
}

func nonNilText(t []RichText) []RichText {
	if t == nil {
		return []RichText{}
	}
	return t
}

// UnmarshalJSON decodes a property value from a request body.
func (p *PropertyValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        PropertyType `json:"type"`
		Title       []RichText   `json:"title"`
		RichText    []RichText   `json:"rich_text"`
		Email       *string      `json:"email"`
		PhoneNumber *string      `json:"phone_number"`
		Select      *SelectValue `json:"select"`
		Date        *DateValue   `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(data, &keys); err != nil {
			return err
		}
		for _, t := range []PropertyType{TypeTitle, TypeRichText, TypeEmail, TypePhoneNumber, TypeSelect, TypeDate} {
			if _, ok := keys[string(t)]; ok {
				raw.Type = t
				break
			}
		}
	}
	*p = PropertyValue{
		Type:        raw.Type,
		Title:       raw.Title,
		RichText:    raw.RichText,
		Email:       raw.Email,
		PhoneNumber: raw.PhoneNumber,
		Select:      raw.Select,
		Date:        raw.Date,
	}
	return nil
}

// UnmarshalJSON parses a query filter. Only string conditions are kept.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{}
	if or, ok := raw["or"]; ok {
		return json.Unmarshal(or, &f.Or)
	}
	if and, ok := raw["and"]; ok {
		return json.Unmarshal(and, &f.And)
	}
	for key, body := range raw {
		if key == "property" {
			if err := json.Unmarshal(body, &f.Property); err != nil {
				return err
			}
			continue
		}
		var cond map[string]json.RawMessage
		if err := json.Unmarshal(body, &cond); err != nil {
			return fmt.Errorf("filter condition %q: %w", key, err)
		}
		for op, v := range cond {
			var s string
			if json.Unmarshal(v, &s) != nil || s == "" {
				continue
			}
			f.Type = PropertyType(key)
			f.Operator = Operator(op)
			f.Value = s
		}
	}
	return nil
}
