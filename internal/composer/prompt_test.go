package composer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/twin/internal/profile"
	"github.com/kalambet/twin/internal/proxy"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := New("Al")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

var testDoc = profile.Document{
	Biography: "Al builds cloud platforms.",
	Resume:    "AWS Certified Solutions Architect, 2021.",
}

func TestBuild_ResumeIncludedOnKeyword(t *testing.T) {
	b := testBuilder(t)

	p := b.Build("What certifications do you have?", testDoc)

	if !p.ResumeIncluded {
		t.Fatal("expected ResumeIncluded")
	}
	if !strings.Contains(p.System, resumeHeading) {
		t.Error("system prompt missing resume heading")
	}
	if !strings.Contains(p.System, testDoc.Resume) {
		t.Error("system prompt missing resume text")
	}
	if !strings.Contains(p.System, "Do not ignore this content") {
		t.Error("system prompt missing resume instruction")
	}
}

func TestBuild_ResumeOmittedWithoutKeyword(t *testing.T) {
	b := testBuilder(t)

	p := b.Build("Hi there", testDoc)

	if p.ResumeIncluded {
		t.Fatal("expected ResumeIncluded=false")
	}
	if strings.Contains(p.System, testDoc.Resume) {
		t.Error("resume text leaked into prompt")
	}
	if !strings.Contains(p.System, bioHeading) || !strings.Contains(p.System, testDoc.Biography) {
		t.Error("biography must always be present")
	}
}

func TestBuild_PlaceholderResumeNeverInjected(t *testing.T) {
	b := testBuilder(t)
	doc := profile.Document{Biography: "bio", Resume: profile.Placeholder}

	p := b.Build("tell me about your resume", doc)

	if p.ResumeIncluded {
		t.Error("placeholder resume should not be included")
	}
	if strings.Contains(p.System, resumeHeading) {
		t.Error("resume heading present without real resume")
	}
}

func TestBuild_PlaceholderBiographyStillPresent(t *testing.T) {
	b := testBuilder(t)
	doc := profile.Document{Biography: profile.Placeholder, Resume: profile.Placeholder}

	p := b.Build("hello", doc)
	if !strings.Contains(p.System, bioHeading+"\n"+profile.Placeholder) {
		t.Errorf("expected placeholder under bio heading, got:\n%s", p.System)
	}
}

func TestBuild_PersonaNameRendered(t *testing.T) {
	b := testBuilder(t)
	p := b.Build("hi", testDoc)

	if !strings.HasPrefix(p.System, "You are acting as Al,") {
		t.Errorf("unexpected prompt start: %q", p.System[:40])
	}
	if strings.Contains(p.System, "{{") {
		t.Error("unrendered template action in prompt")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := testBuilder(t)
	a := b.Build("your experience?", testDoc)
	c := b.Build("your experience?", testDoc)
	if a != c {
		t.Error("Build is not deterministic")
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.md")
	if err := os.WriteFile(path, []byte("I am {{.Name}}."), 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := NewFromFile("Ada", path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	p := b.Build("hi", testDoc)
	if !strings.HasPrefix(p.System, "I am Ada.") {
		t.Errorf("custom persona not used: %q", p.System)
	}
}

func TestNewFromFile_Errors(t *testing.T) {
	if _, err := NewFromFile("x", filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.md")
	if err := os.WriteFile(path, []byte("{{.Name"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromFile("x", path); err == nil {
		t.Error("expected error for malformed template")
	}
}

func TestNewFromFile_EmptyPathUsesDefault(t *testing.T) {
	b, err := NewFromFile("Al", "")
	if err != nil {
		t.Fatal(err)
	}
	if b.persona != testBuilder(t).persona {
		t.Error("empty path should select the embedded persona")
	}
}

func TestMessages_Order(t *testing.T) {
	b := testBuilder(t)
	p := Prompt{System: "SYS"}
	history := []Turn{
		{User: "q1", Assistant: "a1"},
		{User: "q2", Assistant: ""},
		{User: "q3", Assistant: "a3"},
	}

	msgs := b.Messages(p, history, "now", "")

	want := []proxy.Message{
		{Role: proxy.RoleSystem, Content: "SYS"},
		{Role: proxy.RoleUser, Content: "q1"},
		{Role: proxy.RoleAssistant, Content: "a1"},
		{Role: proxy.RoleUser, Content: "q2"},
		{Role: proxy.RoleUser, Content: "q3"},
		{Role: proxy.RoleAssistant, Content: "a3"},
		{Role: proxy.RoleUser, Content: "now"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(msgs), len(want), msgs)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestMessages_ExactlyOneSystemMessage(t *testing.T) {
	b := testBuilder(t)
	msgs := b.Messages(b.Build("hi", testDoc), []Turn{{User: "a", Assistant: "b"}}, "c", "es")

	count := 0
	for _, m := range msgs {
		if m.Role == proxy.RoleSystem {
			count++
		}
	}
	if count != 1 || msgs[0].Role != proxy.RoleSystem {
		t.Errorf("want exactly one leading system message, got %d", count)
	}
}

func TestMessages_LocaleHint(t *testing.T) {
	b := testBuilder(t)
	p := Prompt{System: "SYS"}

	tests := []struct {
		locale string
		want   string
	}{
		{"", ""},
		{"en", ""},
		{"en-GB", ""},
		{"not a locale!", ""},
		{"es", "Spanish"},
		{"zh-CN", "Chinese"},
	}
	for _, tt := range tests {
		sys := b.Messages(p, nil, "hi", tt.locale)[0].Content
		if tt.want == "" {
			if sys != "SYS" {
				t.Errorf("locale %q: unexpected hint %q", tt.locale, sys)
			}
			continue
		}
		if !strings.Contains(sys, "Reply in "+tt.want) {
			t.Errorf("locale %q: system = %q, want hint for %s", tt.locale, sys, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Errorf("EstimateTokens(abcde) = %d, want 2", got)
	}
}
