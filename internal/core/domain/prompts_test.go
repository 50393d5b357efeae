package domain

import (
	"strings"
	"testing"
)

func TestRenderAnswerNumbersEvidence(t *testing.T) {
	prompt := DefaultPrompts().RenderAnswer(" How do I post? ", []Evidence{
		{Filename: "a.docx", Kind: KindTextChunk, Text: "Open Announcements."},
		{Filename: "a.docx", Kind: KindImageDescription, Text: "Red megaphone icon, top right."},
	})
	for _, want := range []string{
		"[1] (text, a.docx)\nOpen Announcements.",
		"[2] (image description, a.docx)\nRed megaphone icon, top right.",
		"USER QUESTION: How do I post?",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected %q in prompt:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "{{") {
		t.Fatalf("unreplaced placeholder in prompt:\n%s", prompt)
	}
}

func TestPromptsMergeAndValidate(t *testing.T) {
	merged := Prompts{Decline: "custom"}.Merge()
	if merged.Decline != "custom" || merged.Answer == "" || merged.Vision == "" {
		t.Fatalf("unexpected merge result %+v", merged)
	}
	if err := merged.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := (Prompts{Answer: "no placeholders"}).Validate(); !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEvidenceKeyIdentifiesLocation(t *testing.T) {
	a := Evidence{DocumentID: "d", Kind: KindTextChunk, Position: 1, RecordID: "x"}
	b := Evidence{DocumentID: "d", Kind: KindTextChunk, Position: 1, RecordID: "y"}
	c := Evidence{DocumentID: "d", Kind: KindImageDescription, Position: 1}
	if a.Key() != b.Key() || a.Key() == c.Key() {
		t.Fatalf("unexpected keys %q %q %q", a.Key(), b.Key(), c.Key())
	}
}
