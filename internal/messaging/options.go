package messaging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

const (
	// OptionFormat renders one selectable option on text-only transports.
	OptionFormat = "\n%d. %s"

	optionsHint = "\n\n(Répondez avec le numéro de votre choix)"
)

var (
	markdownLink    = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)
	markdownEscapes = strings.NewReplacer(`\_`, "_", `\*`, "*", "\\`", "`", `\[`, "[")
)

// PlainText adapts a reply body written in Telegram's legacy Markdown for a
// transport without link entities. Links become "label : url" and escaped
// characters lose their backslash. Bold markers are kept since WhatsApp uses
// the same syntax.
func PlainText(text string) string {
	text = markdownLink.ReplaceAllString(text, "$1 : $2")
	return markdownEscapes.Replace(text)
}

// RenderOptions appends options to body as a numbered list.
func RenderOptions(body string, options []models.Option) string {
	if len(options) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, o := range options {
		fmt.Fprintf(&b, OptionFormat, i+1, o.Label)
	}
	b.WriteString(optionsHint)
	return b.String()
}

// optionMemory remembers the options last offered in each chat so numeric
// replies can be turned back into selections.
type optionMemory struct {
	mu      sync.Mutex
	pending map[string][]models.Option
}

func newOptionMemory() *optionMemory {
	return &optionMemory{pending: make(map[string][]models.Option)}
}

// remember records the options of a reply sent to chatID. A reply without
// options clears the chat's pending options.
func (m *optionMemory) remember(chatID string, options []models.Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(options) == 0 {
		delete(m.pending, chatID)
		return
	}
	m.pending[chatID] = append([]models.Option(nil), options...)
}

// resolve turns a numeric text reply to pending options into a selection.
// Other events are returned unchanged.
func (m *optionMemory) resolve(ev models.Event) models.Event {
	if ev.Kind != models.EventText {
		return ev
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(ev.Text), ".")))
	if err != nil {
		return ev
	}
	m.mu.Lock()
	options := m.pending[ev.ChatID]
	m.mu.Unlock()
	if n < 1 || n > len(options) {
		return ev
	}
	ev.Kind = models.EventSelection
	ev.Payload = options[n-1].Payload
	ev.Text = ""
	return ev
}
