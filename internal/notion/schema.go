package notion

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

// PropertyType is a Notion database property type.
type PropertyType string

const (
	TypeTitle       PropertyType = "title"
	TypeRichText    PropertyType = "rich_text"
	TypeEmail       PropertyType = "email"
	TypePhoneNumber PropertyType = "phone_number"
	TypeSelect      PropertyType = "select"
	TypeDate        PropertyType = "date"
)

// Notion limits on a single text content block.
const (
	MaxTextLength  = 2000
	MaxEmailLength = 200
	MaxPhoneLength = 50
)

// FieldSpec maps one draft field to one database property.
type FieldSpec struct {
	Field    string
	Property string
	Type     PropertyType
	// Options lists the select options the property must offer.
	Options []string
	// Default is written on create when the draft has no value.
	Default string
	// MaxLength truncates text values on write (runes, 0 means no limit).
	MaxLength int
	// Required fields must be present in the draft before a create.
	Required bool
	// Searchable properties take part in free-text search.
	Searchable bool
	// CreateOnly properties are written on create and never touched by a
	// merge update.
	CreateOnly bool
}

// Mapping is the declarative field table driving the record store. Schema
// variants are expressed as different mappings, not code.
type Mapping struct {
	Fields []FieldSpec
}

// SourceOptions are the categories offered by the source step.
var SourceOptions = []string{"Client", "Prospect", "LinkedIn", "Appel", "Autre"}

// StatusOptions are the qualification statuses of a record.
var StatusOptions = []string{"À qualifier", "Cordial", "Ciblé", "Autre"}

// DefaultStatus is set on every new record.
const DefaultStatus = "À qualifier"

// DateAddedProperty is stamped with the creation date of a record.
const DateAddedProperty = "Date d'ajout"

// DefaultMapping returns the mapping for the accountants database.
func DefaultMapping() Mapping {
	return Mapping{Fields: []FieldSpec{
		{Field: models.FieldName, Property: "Nom", Type: TypeTitle, MaxLength: MaxTextLength, Required: true, Searchable: true},
		{Field: models.FieldContact, Property: "Contact", Type: TypeRichText, MaxLength: MaxTextLength, Required: true, Searchable: true},
		{Field: models.FieldEmail, Property: "Email", Type: TypeEmail, MaxLength: MaxEmailLength, Searchable: true},
		{Field: models.FieldPhone, Property: "Téléphone", Type: TypePhoneNumber, MaxLength: MaxPhoneLength},
		{Field: models.FieldCity, Property: "Ville", Type: TypeRichText, MaxLength: MaxTextLength, Required: true, Searchable: true},
		{Field: models.FieldSource, Property: "Source", Type: TypeSelect, Options: SourceOptions},
		{Field: models.FieldAddedBy, Property: "Ajouté par", Type: TypeRichText, MaxLength: MaxTextLength, CreateOnly: true},
		{Field: models.FieldStatus, Property: "Statut", Type: TypeSelect, Options: StatusOptions, Default: DefaultStatus, CreateOnly: true},
		{Field: models.FieldNotes, Property: "Notes", Type: TypeRichText, MaxLength: MaxTextLength},
		{Field: fieldDateAdded, Property: DateAddedProperty, Type: TypeDate, CreateOnly: true},
	}}
}

// fieldDateAdded is filled by the store itself, never by the conversation.
const fieldDateAdded = "date_added"

// Spec returns the FieldSpec for a draft field.
func (m Mapping) Spec(field string) (FieldSpec, bool) {
	for _, f := range m.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Title returns the field mapped to the title property.
func (m Mapping) Title() (FieldSpec, bool) {
	for _, f := range m.Fields {
		if f.Type == TypeTitle {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MismatchKind classifies a schema difference.
type MismatchKind string

const (
	MissingProperty MismatchKind = "missing_property"
	WrongType       MismatchKind = "wrong_type"
	MissingOption   MismatchKind = "missing_option"
)

// Mismatch is one difference between the mapping and the remote schema.
type Mismatch struct {
	Kind     MismatchKind `json:"kind"`
	Property string       `json:"property"`
	Expected string       `json:"expected,omitempty"`
	Actual   string       `json:"actual,omitempty"`
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MissingProperty:
		return fmt.Sprintf("property %q is missing (expected type %s)", m.Property, m.Expected)
	case WrongType:
		return fmt.Sprintf("property %q has type %s, expected %s", m.Property, m.Actual, m.Expected)
	case MissingOption:
		return fmt.Sprintf("property %q has no option %q", m.Property, m.Expected)
	default:
		return fmt.Sprintf("property %q: %s", m.Property, m.Kind)
	}
}

// SchemaError reports a remote schema that does not match the mapping.
type SchemaError struct {
	Mismatches []Mismatch
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return "notion schema mismatch: " + strings.Join(parts, "; ")
}

// Compare checks a database schema against the mapping. Properties are
// visited in mapping order so the result is stable.
func (m Mapping) Compare(db Database) []Mismatch {
	var out []Mismatch
	for _, f := range m.Fields {
		prop, ok := db.Properties[f.Property]
		if !ok {
			out = append(out, Mismatch{Kind: MissingProperty, Property: f.Property, Expected: string(f.Type)})
			continue
		}
		if prop.Type != f.Type {
			out = append(out, Mismatch{Kind: WrongType, Property: f.Property, Expected: string(f.Type), Actual: string(prop.Type)})
			continue
		}
		if f.Type != TypeSelect || len(f.Options) == 0 {
			continue
		}
		have := make(map[string]bool)
		if prop.Select != nil {
			for _, o := range prop.Select.Options {
				have[o.Name] = true
			}
		}
		for _, opt := range f.Options {
			if !have[opt] {
				out = append(out, Mismatch{Kind: MissingOption, Property: f.Property, Expected: opt})
			}
		}
	}
	return out
}
