package notion

import (
	"time"

	"github.com/jomei/notionapi"
)

const dateLayout = "2006-01-02"

func toNotionProperties(props map[string]PropertyValue) notionapi.Properties {
	out := make(notionapi.Properties, len(props))
	for name, pv := range props {
		if p := toNotionProperty(pv); p != nil {
			out[name] = p
		}
	}
	return out
}

// toNotionProperty returns nil for types the mapping cannot produce.
func toNotionProperty(pv PropertyValue) notionapi.Property {
	typ := notionapi.PropertyType(pv.Type)
	switch pv.Type {
	case TypeTitle:
		return &notionapi.TitleProperty{Type: typ, Title: toNotionText(pv.Title)}
	case TypeRichText:
		return &notionapi.RichTextProperty{Type: typ, RichText: toNotionText(pv.RichText)}
	case TypeEmail:
		p := &notionapi.EmailProperty{Type: typ}
		if pv.Email != nil {
			p.Email = *pv.Email
		}
		return p
	case TypePhoneNumber:
		p := &notionapi.PhoneNumberProperty{Type: typ}
		if pv.PhoneNumber != nil {
			p.PhoneNumber = *pv.PhoneNumber
		}
		return p
	case TypeSelect:
		p := &notionapi.SelectProperty{Type: typ}
		if pv.Select != nil {
			p.Select = notionapi.Option{Name: pv.Select.Name}
		}
		return p
	case TypeDate:
		p := &notionapi.DateProperty{Type: typ}
		if pv.Date != nil {
			if t, err := parseDate(pv.Date.Start); err == nil {
				start := notionapi.Date(t)
				p.Date = &notionapi.DateObject{Start: &start}
			}
		}
		return p
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func toNotionText(items []RichText) []notionapi.RichText {
	out := make([]notionapi.RichText, 0, len(items))
	for _, it := range items {
		content := it.PlainText
		if it.Text != nil {
			content = it.Text.Content
		}
		out = append(out, notionapi.RichText{Type: "text", Text: &notionapi.Text{Content: content}})
	}
	return out
}

func fromNotionText(items []notionapi.RichText) []RichText {
	out := make([]RichText, 0, len(items))
	for _, it := range items {
		rt := RichText{Type: string(it.Type), PlainText: it.PlainText}
		if it.Text != nil {
			rt.Text = &TextContent{Content: it.Text.Content}
		}
		out = append(out, rt)
	}
	return out
}

// fromNotionProperty reports false for property types the mapping never uses.
func fromNotionProperty(p notionapi.Property) (PropertyValue, bool) {
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		return PropertyValue{Type: TypeTitle, Title: fromNotionText(v.Title)}, true
	case *notionapi.RichTextProperty:
		return PropertyValue{Type: TypeRichText, RichText: fromNotionText(v.RichText)}, true
	case *notionapi.EmailProperty:
		email := v.Email
		return PropertyValue{Type: TypeEmail, Email: &email}, true
	case *notionapi.PhoneNumberProperty:
		phone := v.PhoneNumber
		return PropertyValue{Type: TypePhoneNumber, PhoneNumber: &phone}, true
	case *notionapi.SelectProperty:
		pv := PropertyValue{Type: TypeSelect}
		if v.Select.Name != "" {
			pv.Select = &SelectValue{Name: v.Select.Name}
		}
		return pv, true
	case *notionapi.DateProperty:
		pv := PropertyValue{Type: TypeDate}
		if v.Date != nil && v.Date.Start != nil {
			pv.Date = &DateValue{Start: time.Time(*v.Date.Start).Format(dateLayout)}
		}
		return pv, true
	}
	return PropertyValue{}, false
}

func fromNotionPage(p *notionapi.Page) Page {
	out := Page{
		ID:         string(p.ID),
		URL:        p.URL,
		Archived:   p.Archived,
		Properties: make(map[string]PropertyValue, len(p.Properties)),
	}
	for name, prop := range p.Properties {
		if pv, ok := fromNotionProperty(prop); ok {
			out.Properties[name] = pv
		}
	}
	return out
}

func fromNotionDatabase(db *notionapi.Database) *Database {
	out := &Database{ID: string(db.ID), Properties: make(map[string]PropertySchema, len(db.Properties))}
	for name, cfg := range db.Properties {
		ps := PropertySchema{Name: name, Type: PropertyType(cfg.GetType())}
		if sel, ok := cfg.(*notionapi.SelectPropertyConfig); ok {
			ps.Select = &SelectSchema{}
			for _, o := range sel.Select.Options {
				ps.Select.Options = append(ps.Select.Options, SelectOption{Name: o.Name, Color: string(o.Color)})
			}
		}
		out.Properties[name] = ps
	}
	return out
}

// toNotionFilter converts a filter tree. Text-like properties (title, email,
// phone number) are matched through the rich text condition.
func toNotionFilter(f Filter) notionapi.Filter {
	switch {
	case len(f.Or) > 0:
		or := make(notionapi.OrCompoundFilter, 0, len(f.Or))
		for _, sub := range f.Or {
			or = append(or, toNotionFilter(sub))
		}
		return or
	case len(f.And) > 0:
		and := make(notionapi.AndCompoundFilter, 0, len(f.And))
		for _, sub := range f.And {
			and = append(and, toNotionFilter(sub))
		}
		return and
	}
	pf := notionapi.PropertyFilter{Property: f.Property}
	if f.Type == TypeSelect {
		cond := &notionapi.SelectFilterCondition{}
		if f.Operator == OpEquals {
			cond.Equals = f.Value
		}
		pf.Select = cond
		return pf
	}
	cond := &notionapi.TextFilterCondition{}
	switch f.Operator {
	case OpEquals:
		cond.Equals = f.Value
	case OpContains:
		cond.Contains = f.Value
	}
	pf.RichText = cond
	return pf
}
