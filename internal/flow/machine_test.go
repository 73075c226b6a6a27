package flow

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/notion"
)

func newTestMachine() *Machine {
	m := NewMachine("FR")
	m.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	n := 0
	m.newID = func() string {
		n++
		return "sess-" + string(rune('0'+n))
	}
	return m
}

func text(s string) models.Event {
	return models.Event{Kind: models.EventText, UserID: "42", ChatID: "c42", Text: s}
}

func selection(payload, messageID string) models.Event {
	return models.Event{Kind: models.EventSelection, UserID: "42", ChatID: "c42", Payload: payload, MessageID: messageID}
}

func sessionAt(state State, fields models.Draft) *Session {
	return &Session{ID: "sess-x", UserID: "42", ChatID: "c42", State: state, Fields: fields, AddedBy: "alice"}
}

func TestBeginCreatesFreshSession(t *testing.T) {
	m := newTestMachine()
	out := m.Begin(models.Event{Kind: models.EventCommand, Command: "add", UserID: "42", UserName: "alice", ChatID: "c42"})

	require.NotNil(t, out.Session)
	assert.Equal(t, StateAskingName, out.Session.State)
	assert.Empty(t, out.Session.Fields)
	assert.Equal(t, "alice", out.Session.AddedBy)
	assert.Equal(t, "sess-1", out.Session.ID)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0].Text, "Étape 1/7")
	assert.Equal(t, "c42", out.Replies[0].ChatID)

	anon := m.Begin(models.Event{Kind: models.EventCommand, Command: "add", UserID: "7", ChatID: "c7"})
	assert.Equal(t, "7", anon.Session.AddedBy)
	assert.NotEqual(t, out.Session.ID, anon.Session.ID)
}

func TestRequiredStepsRejectBlankInput(t *testing.T) {
	m := newTestMachine()
	for _, state := range []State{StateAskingName, StateAskingContact, StateAskingCity} {
		for _, input := range []string{"", "   ", "\t\n", "-", " - "} {
			cur := sessionAt(state, models.Draft{})
			out := m.Step(cur, text(input))
			assert.Equal(t, state, out.Session.State, "state %s input %q", state, input)
			assert.Empty(t, out.Session.Fields)
			assert.False(t, out.End)
			require.Len(t, out.Replies, 1)
			assert.True(t, strings.HasPrefix(out.Replies[0].Text, "❌ "))
			assert.Contains(t, out.Replies[0].Text, "obligatoire")
		}
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	m := newTestMachine()
	cur := sessionAt(StateAskingName, models.Draft{})
	out := m.Step(cur, text("Acme"))
	assert.Equal(t, StateAskingName, cur.State)
	assert.Empty(t, cur.Fields)
	assert.Equal(t, "Acme", out.Session.Fields[models.FieldName])
}

func TestLinearProgression(t *testing.T) {
	m := newTestMachine()
	s := m.Begin(models.Event{UserID: "42", ChatID: "c42"}).Session

	steps := []struct {
		ev   models.Event
		want State
		hint string
	}{
		{text("  Cabinet Martin "), StateAskingContact, "Étape 2/7"},
		{text("Jean Martin"), StateAskingEmail, "Étape 3/7"},
		{text("Jean@Martin.FR"), StateAskingPhone, "Étape 4/7"},
		{text("06 12 34 56 78"), StateAskingCity, "Étape 5/7"},
		{text("Paris"), StateAskingSource, "Étape 6/7"},
		{selection("source_Client", "m5"), StateAskingNotes, "Étape 7/7"},
	}
	for _, st := range steps {
		out := m.Step(s, st.ev)
		require.Equal(t, st.want, out.Session.State)
		require.Len(t, out.Replies, 1)
		assert.Contains(t, out.Replies[0].Text, st.hint)
		s = out.Session
	}

	out := m.Step(s, text("-"))
	assert.Equal(t, StateSubmitting, out.Session.State)
	assert.Equal(t, CommandCheckDuplicates, out.Command.Kind)
	assert.Empty(t, out.Replies)

	assert.Equal(t, models.Draft{
		models.FieldName:    "Cabinet Martin",
		models.FieldContact: "Jean Martin",
		models.FieldEmail:   "Jean@martin.fr",
		models.FieldPhone:   "+33612345678",
		models.FieldCity:    "Paris",
		models.FieldSource:  "Client",
	}, out.Session.Fields)
}

func TestCityStepOffersSources(t *testing.T) {
	m := newTestMachine()
	out := m.Step(sessionAt(StateAskingCity, models.Draft{}), text("Lyon"))
	require.Len(t, out.Replies, 1)
	opts := out.Replies[0].Options
	require.Len(t, opts, len(notion.SourceOptions))
	for i, v := range notion.SourceOptions {
		assert.Equal(t, PayloadSourcePrefix+v, opts[i].Payload)
	}
}

func TestInvalidEmailRepromptsSameState(t *testing.T) {
	m := newTestMachine()
	cur := sessionAt(StateAskingEmail, models.Draft{models.FieldName: "Acme", models.FieldContact: "Bob"})
	out := m.Step(cur, text("not-an-email"))

	assert.Equal(t, StateAskingEmail, out.Session.State)
	assert.NotContains(t, out.Session.Fields, models.FieldEmail)
	require.Len(t, out.Replies, 1)
	assert.True(t, strings.HasPrefix(out.Replies[0].Text, "❌ Email invalide"))
	assert.True(t, strings.HasSuffix(out.Replies[0].Text, promptEmail))
}

func TestSkippedOptionalFields(t *testing.T) {
	m := newTestMachine()
	out := m.Step(sessionAt(StateAskingEmail, models.Draft{}), text("-"))
	assert.Equal(t, StateAskingPhone, out.Session.State)
	assert.NotContains(t, out.Session.Fields, models.FieldEmail)

	out = m.Step(out.Session, text(" - "))
	assert.Equal(t, StateAskingCity, out.Session.State)
	assert.NotContains(t, out.Session.Fields, models.FieldPhone)
	assert.Empty(t, out.Warnings)
}

func TestPhonePassthroughWarns(t *testing.T) {
	m := newTestMachine()
	out := m.Step(sessionAt(StateAskingPhone, models.Draft{}), text("standard: poste 12"))
	assert.Equal(t, StateAskingCity, out.Session.State)
	assert.Equal(t, "standard: poste 12", out.Session.Fields[models.FieldPhone])
	require.Len(t, out.Warnings, 1)
}

func TestSourceRequiresSelection(t *testing.T) {
	m := newTestMachine()
	cur := sessionAt(StateAskingSource, models.Draft{})

	for _, ev := range []models.Event{
		text("Client"),
		selection("source_Unknown", "m1"),
		selection("duplicate_update", "m1"),
	} {
		out := m.Step(cur, ev)
		assert.Equal(t, StateAskingSource, out.Session.State)
		assert.NotContains(t, out.Session.Fields, models.FieldSource)
		require.Len(t, out.Replies, 1)
		assert.Len(t, out.Replies[0].Options, len(DefaultSources))
		assert.Empty(t, out.Replies[0].EditMessageID)
	}

	out := m.Step(cur, selection("source_LinkedIn", "m1"))
	assert.Equal(t, "LinkedIn", out.Session.Fields[models.FieldSource])
	assert.Equal(t, "m1", out.Replies[0].EditMessageID)
	assert.Contains(t, out.Replies[0].Text, "*LinkedIn*")
}

func TestNotesAreSanitized(t *testing.T) {
	m := newTestMachine()
	fields := models.Draft{models.FieldName: "Acme", models.FieldContact: "Bob", models.FieldCity: "Lyon"}
	out := m.Step(sessionAt(StateAskingNotes, fields), text("  "+strings.Repeat("x", notion.MaxTextLength+10)+"  "))
	assert.Len(t, out.Session.Fields[models.FieldNotes], notion.MaxTextLength)
}

func TestNotesWithMissingRequiredEnds(t *testing.T) {
	m := newTestMachine()
	out := m.Step(sessionAt(StateAskingNotes, models.Draft{models.FieldName: "Acme"}), text("ok"))
	assert.True(t, out.End)
	assert.Equal(t, CommandNone, out.Command.Kind)
	assert.NotEmpty(t, out.Warnings)
}

func TestAfterDuplicateCheck(t *testing.T) {
	m := newTestMachine()
	cur := sessionAt(StateSubmitting, models.Draft{models.FieldName: "Acme"})

	out := m.AfterDuplicateCheck(cur, nil, nil)
	assert.Equal(t, CommandSubmit, out.Command.Kind)
	assert.Equal(t, ActionCreate, out.Command.Action)
	assert.Empty(t, out.Replies)

	out = m.AfterDuplicateCheck(cur, []models.MatchCandidate{{ID: "p1", Title: "Acme_Paris"}, {ID: "p2", Title: "Other"}}, nil)
	assert.Equal(t, StateHandlingDuplicate, out.Session.State)
	assert.Equal(t, "p1", out.Session.PendingMatchID)
	assert.Equal(t, CommandNone, out.Command.Kind)
	require.Len(t, out.Replies, 1)
	assert.Contains(t, out.Replies[0].Text, `Acme\_Paris`)
	assert.NotContains(t, out.Replies[0].Text, "Other")
	assert.Equal(t, []models.Option{
		{Label: "🔄 Mettre à jour", Payload: PayloadUpdate},
		{Label: "➕ Créer quand même", Payload: PayloadCreate},
	}, out.Replies[0].Options)

	out = m.AfterDuplicateCheck(cur, nil, errors.New("timeout"))
	assert.True(t, out.End)
	assert.Equal(t, CommandNone, out.Command.Kind)
	assert.True(t, strings.HasPrefix(out.Replies[0].Text, "❌"))
	assert.NotContains(t, out.Replies[0].Text, "timeout")
}

func TestDuplicateDecision(t *testing.T) {
	m := newTestMachine()
	cur := sessionAt(StateHandlingDuplicate, models.Draft{models.FieldName: "Acme"})
	cur.PendingMatchID = "p1"
	cur.PendingMatchTitle = "Acme"

	out := m.Step(cur, selection(PayloadUpdate, "m9"))
	assert.Equal(t, Command{Kind: CommandSubmit, Action: ActionUpdate, MatchID: "p1"}, out.Command)

	out = m.Step(cur, selection(PayloadCreate, "m9"))
	assert.Equal(t, Command{Kind: CommandSubmit, Action: ActionCreate}, out.Command)

	out = m.Step(cur, text("update"))
	assert.Equal(t, CommandNone, out.Command.Kind)
	assert.Equal(t, StateHandlingDuplicate, out.Session.State)
	assert.Len(t, out.Replies[0].Options, 2)
}

func TestAfterSubmit(t *testing.T) {
	m := newTestMachine()
	cur := sessionAt(StateSubmitting, models.Draft{
		models.FieldName: "Cabinet *Martin*", models.FieldContact: "Jean", models.FieldCity: "Paris",
	})
	ref := models.RecordRef{ID: "p1", URL: "https://www.notion.so/p1"}

	out := m.AfterSubmit(cur, text("-"), ActionCreate, ref, nil)
	assert.True(t, out.End)
	r := out.Replies[0]
	assert.Contains(t, r.Text, "créé avec succès")
	assert.Contains(t, r.Text, `Cabinet \*Martin\*`)
	assert.Contains(t, r.Text, "(https://www.notion.so/p1)")
	assert.Empty(t, r.EditMessageID)

	out = m.AfterSubmit(cur, selection(PayloadUpdate, "m9"), ActionUpdate, ref, nil)
	assert.Contains(t, out.Replies[0].Text, "mis à jour avec succès")
	assert.Equal(t, "m9", out.Replies[0].EditMessageID)

	out = m.AfterSubmit(cur, selection(PayloadUpdate, "m9"), ActionUpdate, models.RecordRef{}, errors.New("notion 500"))
	assert.True(t, out.End)
	assert.Contains(t, out.Replies[0].Text, "Erreur lors de la mise à jour")
	assert.NotContains(t, out.Replies[0].Text, "notion 500")
}

func TestDraftAddsOperator(t *testing.T) {
	m := newTestMachine()
	s := sessionAt(StateSubmitting, models.Draft{models.FieldName: "Acme"})
	d := m.Draft(s)
	assert.Equal(t, "alice", d[models.FieldAddedBy])
	assert.NotContains(t, s.Fields, models.FieldAddedBy)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\`+"`"+`d\[e]`, escapeMarkdown("a_b*c`d[e]"))
}
