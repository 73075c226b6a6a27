package flow

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/notion"
	"github.com/BTreeMap/ContactPipe/internal/validate"
)

// Action is a remote write the conversation can end with.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// CommandKind is a side effect requested by a transition.
type CommandKind int

const (
	// CommandNone means the transition is complete.
	CommandNone CommandKind = iota
	// CommandCheckDuplicates asks for a duplicate lookup; its result is fed
	// back through AfterDuplicateCheck.
	CommandCheckDuplicates
	// CommandSubmit asks for a create or update; its result is fed back
	// through AfterSubmit.
	CommandSubmit
)

// Command describes the side effect the engine must run next.
type Command struct {
	Kind    CommandKind
	Action  Action
	MatchID string
}

// Outcome is the result of a transition.
type Outcome struct {
	// Session is the next session state. It must be deleted when End is set.
	Session *Session
	End     bool
	Replies []models.Reply
	Command Command
	// Warnings are advisory notes for the logs, never shown to the user.
	Warnings []string
}

// Machine holds the transition rules of the conversation. Its methods do not
// touch any store; they return the next state and the effects to run.
type Machine struct {
	region  string
	sources []Source
	now     func() time.Time
	newID   func() string
}

// NewMachine creates a Machine normalizing phone numbers for region.
func NewMachine(region string) *Machine {
	if region == "" {
		region = validate.DefaultRegion
	}
	return &Machine{
		region:  region,
		sources: DefaultSources,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Begin starts a fresh session for the event's user. Any previous session of
// the user is replaced, never merged.
func (m *Machine) Begin(ev models.Event) Outcome {
	now := m.now()
	addedBy := strings.TrimSpace(ev.UserName)
	if addedBy == "" {
		addedBy = ev.UserID
	}
	s := &Session{
		ID:        m.newID(),
		UserID:    ev.UserID,
		ChatID:    ev.ChatID,
		State:     StateAskingName,
		Fields:    models.Draft{},
		AddedBy:   addedBy,
		StartedAt: now,
		UpdatedAt: now,
	}
	return Outcome{
		Session: s,
		Replies: []models.Reply{m.reply(s, msgAddHeader+promptName, nil)},
	}
}

// Step applies an inbound text or selection event to the session.
func (m *Machine) Step(cur *Session, ev models.Event) Outcome {
	s := cur.Clone()
	if s.Fields == nil {
		s.Fields = models.Draft{}
	}
	s.UpdatedAt = m.now()

	switch s.State {
	case StateAskingName:
		return m.requiredStep(s, ev, models.FieldName, "nom du cabinet", promptName, StateAskingContact, promptContact)
	case StateAskingContact:
		return m.requiredStep(s, ev, models.FieldContact, "contact principal", promptContact, StateAskingEmail, promptEmail)
	case StateAskingEmail:
		return m.emailStep(s, ev)
	case StateAskingPhone:
		return m.phoneStep(s, ev)
	case StateAskingCity:
		out := m.requiredStep(s, ev, models.FieldCity, "ville", promptCity, StateAskingSource, promptSource)
		if out.Session.State == StateAskingSource {
			out.Replies[0].Options = sourceOptions(m.sources)
		}
		return out
	case StateAskingSource:
		return m.sourceStep(s, ev)
	case StateAskingNotes:
		return m.notesStep(s, ev)
	case StateHandlingDuplicate:
		return m.duplicateStep(s, ev)
	case StateSubmitting:
		return Outcome{Session: s, Replies: []models.Reply{m.reply(s, msgBusy, nil)}}
	default:
		return Outcome{Session: s, End: true, Replies: []models.Reply{m.reply(s, msgExpired, nil)}}
	}
}

func (m *Machine) requiredStep(s *Session, ev models.Event, field, label, prompt string, next State, nextPrompt string) Outcome {
	if ev.Kind != models.EventText {
		return m.retry(s, msgTextExpected, prompt, nil)
	}
	v, err := validate.RequiredText(ev.Text, label, notion.MaxTextLength)
	if err != nil {
		return m.retry(s, userMessage(err), prompt, nil)
	}
	s.Fields[field] = v
	return m.advance(s, next, nextPrompt)
}

func (m *Machine) emailStep(s *Session, ev models.Event) Outcome {
	if ev.Kind != models.EventText {
		return m.retry(s, msgTextExpected, promptEmail, nil)
	}
	email, err := validate.Email(ev.Text)
	if err != nil {
		return m.retry(s, userMessage(err), promptEmail, nil)
	}
	setOptional(s.Fields, models.FieldEmail, email)
	return m.advance(s, StateAskingPhone, promptPhone)
}

func (m *Machine) phoneStep(s *Session, ev models.Event) Outcome {
	if ev.Kind != models.EventText {
		return m.retry(s, msgTextExpected, promptPhone, nil)
	}
	res := validate.Phone(ev.Text, m.region)
	value, _ := validate.SanitizeText(res.Value, notion.MaxPhoneLength)
	setOptional(s.Fields, models.FieldPhone, value)
	out := m.advance(s, StateAskingCity, promptCity)
	if res.Warning != "" {
		out.Warnings = append(out.Warnings, res.Warning)
	}
	return out
}

func (m *Machine) sourceStep(s *Session, ev models.Event) Outcome {
	value, ok := m.selectedSource(ev)
	if !ok {
		return m.retry(s, msgChooseSource, promptSource, sourceOptions(m.sources))
	}
	s.Fields[models.FieldSource] = value
	s.State = StateAskingNotes
	r := m.reply(s, sourceSelected(value)+"\n\n"+promptNotes, nil)
	r.EditMessageID = ev.MessageID
	return Outcome{Session: s, Replies: []models.Reply{r}}
}

func (m *Machine) selectedSource(ev models.Event) (string, bool) {
	if ev.Kind != models.EventSelection || !strings.HasPrefix(ev.Payload, PayloadSourcePrefix) {
		return "", false
	}
	value := strings.TrimPrefix(ev.Payload, PayloadSourcePrefix)
	for _, src := range m.sources {
		if src.Value == value {
			return value, true
		}
	}
	return "", false
}

func (m *Machine) notesStep(s *Session, ev models.Event) Outcome {
	if ev.Kind != models.EventText {
		return m.retry(s, msgTextExpected, promptNotes, nil)
	}
	notes, _ := validate.SanitizeText(ev.Text, notion.MaxTextLength)
	setOptional(s.Fields, models.FieldNotes, notes)

	if missing := s.Fields.Missing(); len(missing) > 0 {
		return Outcome{
			Session:  s,
			End:      true,
			Replies:  []models.Reply{m.reply(s, msgIncomplete, nil)},
			Warnings: []string{"draft missing required fields: " + strings.Join(missing, ", ")},
		}
	}
	s.State = StateSubmitting
	return Outcome{Session: s, Command: Command{Kind: CommandCheckDuplicates}}
}

func (m *Machine) duplicateStep(s *Session, ev models.Event) Outcome {
	if ev.Kind == models.EventSelection {
		switch ev.Payload {
		case PayloadUpdate:
			s.State = StateSubmitting
			return Outcome{Session: s, Command: Command{Kind: CommandSubmit, Action: ActionUpdate, MatchID: s.PendingMatchID}}
		case PayloadCreate:
			s.State = StateSubmitting
			return Outcome{Session: s, Command: Command{Kind: CommandSubmit, Action: ActionCreate}}
		}
	}
	return m.retry(s, msgChooseDecision, duplicatePrompt(s.PendingMatchTitle), duplicateOptions())
}

// AfterDuplicateCheck continues a submitting session with the lookup result.
// A failed lookup ends the conversation without writing anything.
func (m *Machine) AfterDuplicateCheck(cur *Session, candidates []models.MatchCandidate, err error) Outcome {
	s := cur.Clone()
	s.UpdatedAt = m.now()
	if err != nil {
		return Outcome{Session: s, End: true, Replies: []models.Reply{m.reply(s, msgDedupFailed, nil)}}
	}
	if len(candidates) == 0 {
		return Outcome{Session: s, Command: Command{Kind: CommandSubmit, Action: ActionCreate}}
	}
	first := candidates[0]
	s.State = StateHandlingDuplicate
	s.PendingMatchID = first.ID
	s.PendingMatchTitle = first.Title
	return Outcome{
		Session: s,
		Replies: []models.Reply{m.reply(s, duplicatePrompt(first.Title), duplicateOptions())},
	}
}

// AfterSubmit ends the conversation with the result of a remote write,
// successful or not. When the write was triggered by a selection the
// message carrying the options is edited to show the outcome.
func (m *Machine) AfterSubmit(cur *Session, ev models.Event, action Action, ref models.RecordRef, err error) Outcome {
	s := cur.Clone()
	var text string
	switch {
	case err == nil:
		text = submitSuccess(action, s.Fields, ref.URL)
	case action == ActionUpdate:
		text = msgUpdateFailed
	default:
		text = msgCreateFailed
	}
	r := m.reply(s, text, nil)
	if ev.Kind == models.EventSelection {
		r.EditMessageID = ev.MessageID
	}
	return Outcome{Session: s, End: true, Replies: []models.Reply{r}}
}

// Draft returns the record to write for the session.
func (m *Machine) Draft(s *Session) models.Draft {
	d := s.Fields.Clone()
	if s.AddedBy != "" {
		d[models.FieldAddedBy] = s.AddedBy
	}
	return d
}

func (m *Machine) advance(s *Session, next State, prompt string) Outcome {
	s.State = next
	return Outcome{Session: s, Replies: []models.Reply{m.reply(s, prompt, nil)}}
}

func (m *Machine) retry(s *Session, reason, prompt string, options []models.Option) Outcome {
	return Outcome{Session: s, Replies: []models.Reply{m.reply(s, reprompt(reason, prompt), options)}}
}

func (m *Machine) reply(s *Session, text string, options []models.Option) models.Reply {
	return models.Reply{ChatID: s.ChatID, Text: text, Markdown: true, Options: options}
}

// setOptional stores value under key, or removes the key when value is empty.
func setOptional(d models.Draft, key, value string) {
	if value == "" {
		delete(d, key)
		return
	}
	d[key] = value
}

// userMessage extracts the user-facing text of a validation error.
func userMessage(err error) string {
	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return "Valeur invalide."
}
