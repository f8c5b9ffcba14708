package composer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/proxy"
)

//go:embed persona.md
var defaultPersona string

const (
	bioHeading    = "### Executive Bio"
	resumeHeading = "### Resume Details"

	resumeInstruction = "Use this information when answering questions about certifications, projects, work history, or education.\n" +
		"Do not ignore this content: it is %s's actual resume data."
)

// Prompt is the system message for one request.
type Prompt struct {
	System         string
	ResumeIncluded bool
}

// Turn is one prior exchange of the conversation.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Builder renders the persona template and assembles chat requests. It holds
// no per-request state and is safe for concurrent use.
type Builder struct {
	name    string
	persona string
}

// New creates a Builder using the embedded persona template.
func New(name string) (*Builder, error) {
	return newBuilder(name, defaultPersona)
}

// NewFromFile creates a Builder using the persona template at path. An empty
// path selects the embedded template.
func NewFromFile(name, path string) (*Builder, error) {
	if path == "" {
		return New(name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona template: %w", err)
	}
	return newBuilder(name, string(data))
}

func newBuilder(name, tmpl string) (*Builder, error) {
	t, err := template.New("persona").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parsing persona template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, struct{ Name string }{name}); err != nil {
		return nil, fmt.Errorf("rendering persona template: %w", err)
	}
	return &Builder{name: name, persona: strings.TrimSpace(sb.String())}, nil
}

// Name returns the persona name.
func (b *Builder) Name() string { return b.name }

// Build produces the system message for message. The biography is always
// embedded; the résumé is appended only when the message asks about career
// topics and a real résumé was loaded.
func (b *Builder) Build(message string, doc profile.Document) Prompt {
	var sb strings.Builder
	sb.WriteString(b.persona)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(bioHeading)
	sb.WriteString("\n")
	sb.WriteString(doc.Biography)

	include := IncludeResume(message) && doc.HasResume()
	if include {
		sb.WriteString("\n\n")
		sb.WriteString(resumeHeading)
		sb.WriteString("\n")
		fmt.Fprintf(&sb, resumeInstruction, b.name)
		sb.WriteString("\n\n")
		sb.WriteString(doc.Resume)
	}

	return Prompt{System: sb.String(), ResumeIncluded: include}
}

// Messages assembles the chat request: the system message first, then each
// prior turn as a user/assistant pair, then the new user message. A turn with
// an empty assistant reply contributes only its user message.
func (b *Builder) Messages(p Prompt, history []Turn, message, locale string) []proxy.Message {
	system := p.System
	if hint := localeHint(locale); hint != "" {
		system += "\n\n" + hint
	}

	msgs := make([]proxy.Message, 0, 2+2*len(history))
	msgs = append(msgs, proxy.Message{Role: proxy.RoleSystem, Content: system})
	for _, t := range history {
		if t.User != "" {
			msgs = append(msgs, proxy.Message{Role: proxy.RoleUser, Content: t.User})
		}
		if t.Assistant != "" {
			msgs = append(msgs, proxy.Message{Role: proxy.RoleAssistant, Content: t.Assistant})
		}
	}
	msgs = append(msgs, proxy.Message{Role: proxy.RoleUser, Content: message})
	return msgs
}

// localeHint returns a reply-language instruction for a non-English locale, or
// "" when none is needed.
func localeHint(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	if base.String() == "en" || base.String() == "und" {
		return ""
	}
	name := display.English.Languages().Name(base)
	if name == "" {
		name = base.String()
	}
	return fmt.Sprintf("The visitor selected %s as their language. Reply in %s unless they write in another language.", name, name)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
