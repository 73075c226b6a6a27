package notion

import (
	"strings"
	"time"
	"unicode/utf8"
)

// TextContent is the content of a rich text item.
type TextContent struct {
	Content string `json:"content"`
}

// RichText is a single rich text item. Only plain text is produced.
type RichText struct {
	Type      string       `json:"type,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

// SelectValue is the value of a select property.
type SelectValue struct {
	Name string `json:"name"`
}

// DateValue is the value of a date property.
type DateValue struct {
	Start string `json:"start"`
}

// PropertyValue is a page property value. Exactly one of the typed fields is
// meaningful, selected by Type.
type PropertyValue struct {
	Type        PropertyType
	Title       []RichText
	RichText    []RichText
	Email       *string
	PhoneNumber *string
	Select      *SelectValue
	Date        *DateValue
}

// PlainText returns the text carried by the value, whatever its type.
func (p PropertyValue) PlainText() string {
	switch p.Type {
	case TypeTitle:
		return joinText(p.Title)
	case TypeRichText:
		return joinText(p.RichText)
	case TypeEmail:
		if p.Email != nil {
			return *p.Email
		}
	case TypePhoneNumber:
		if p.PhoneNumber != nil {
			return *p.PhoneNumber
		}
	case TypeSelect:
		if p.Select != nil {
			return p.Select.Name
		}
	case TypeDate:
		if p.Date != nil {
			return p.Date.Start
		}
	}
	return ""
}

// HasContent reports whether the value holds anything.
func (p PropertyValue) HasContent() bool {
	return strings.TrimSpace(p.PlainText()) != ""
}

func joinText(items []RichText) string {
	var b strings.Builder
	for _, it := range items {
		if it.PlainText != "" {
			b.WriteString(it.PlainText)
		} else if it.Text != nil {
			b.WriteString(it.Text.Content)
		}
	}
	return b.String()
}

// valueFor builds the property value of a mapped field from a normalized string.
func valueFor(spec FieldSpec, value string) PropertyValue {
	value = truncate(value, spec.MaxLength)
	pv := PropertyValue{Type: spec.Type}
	switch spec.Type {
	case TypeTitle:
		pv.Title = []RichText{{Type: "text", Text: &TextContent{Content: value}}}
	case TypeRichText:
		pv.RichText = []RichText{{Type: "text", Text: &TextContent{Content: value}}}
	case TypeEmail:
		pv.Email = &value
	case TypePhoneNumber:
		pv.PhoneNumber = &value
	case TypeSelect:
		pv.Select = &SelectValue{Name: value}
	case TypeDate:
		pv.Date = &DateValue{Start: value}
	}
	return pv
}

func dateValue(t time.Time) string {
	return t.Format("2006-01-02")
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimRight(string([]rune(s)[:max]), " \t\r\n")
}

// Page is a database page.
type Page struct {
	ID         string                   `json:"id"`
	URL        string                   `json:"url"`
	Archived   bool                     `json:"archived,omitempty"`
	Properties map[string]PropertyValue `json:"properties"`
}

// SelectOption is one option of a select property schema.
type SelectOption struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// SelectSchema is the configuration of a select property.
type SelectSchema struct {
	Options []SelectOption `json:"options"`
}

// PropertySchema is a database property definition.
type PropertySchema struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Type   PropertyType  `json:"type"`
	Select *SelectSchema `json:"select,omitempty"`
}

// Database is the subset of a database object used for schema checks.
type Database struct {
	ID         string                    `json:"id"`
	Properties map[string]PropertySchema `json:"properties"`
}

// QueryRequest is the body of a database query.
type QueryRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
}

// QueryResponse is a page of database query results.
type QueryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}
