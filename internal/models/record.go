package models

// Draft record field keys. The conversation fills them in this order; the
// record store maps them to remote properties.
const (
	FieldName    = "name"
	FieldContact = "contact"
	FieldEmail   = "email"
	FieldPhone   = "phone"
	FieldCity    = "city"
	FieldSource  = "source"
	FieldNotes   = "notes"
	FieldAddedBy = "added_by"
	FieldStatus  = "status"
)

// RequiredFields lists the fields that must be non-empty before submit.
var RequiredFields = []string{FieldName, FieldContact, FieldCity}

// Draft is the accumulating record: field key to normalized value. A missing
// key means the field was not collected or intentionally left empty.
type Draft map[string]string

// Get returns the value for key, or "" when absent.
func (d Draft) Get(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// Missing returns the required fields that are absent or empty.
func (d Draft) Missing() []string {
	var missing []string
	for _, f := range RequiredFields {
		if d.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Clone returns an independent copy of the draft.
func (d Draft) Clone() Draft {
	out := make(Draft, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// RecordRef identifies a record persisted in the remote store.
type RecordRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// MatchCandidate is a remote record returned by a duplicate or free-text
// search, with enough information to show it to the user.
type MatchCandidate struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
