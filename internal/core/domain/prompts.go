package domain

import (
	"fmt"
	"strings"
)

// Prompts holds the model instructions. Answer must contain the {{context}}
// and {{question}} placeholders.
type Prompts struct {
	Vision  string `yaml:"vision"`
	Answer  string `yaml:"answer"`
	Decline string `yaml:"decline"`
}

const defaultVisionPrompt = `Analyze this LMS screenshot in detail for a technical manual.
For every button, icon, and navigation element:
1. Identify the visual shape (e.g., megaphone, gear, plus sign).
2. Note the color and screen location (e.g., top-right header, sidebar).
3. State the associated text label.
Explain the purpose of this screen as if teaching a new user.`

const defaultAnswerPrompt = `You are a specialized LMS Technical Support Assistant.
Your goal is to provide a walkthrough that is impossible to misunderstand.

FORMATTING RULES:
- Use '## 1)' '## 2)' '## 3)' etc. for main steps
- Use '1.' '2.' '3.' etc. for sub-steps under each main step
- Put each sub-step on a NEW LINE
- Example format:
  ## 1) Main step title
  1. First sub-step here.
  2. Second sub-step here.
  ## 2) Next main step

CONTENT RULES:
- For every action, describe the visual icon (e.g., 'the megaphone icon') and its screen location
- Use **bold** for important UI elements, colors, and locations
- Be conversational but extremely precise
- Answer ONLY using the provided context
- If the context does not contain the steps, say that the documentation does not cover it; do not invent steps
- Use both text documentation AND image descriptions

CONTEXT:
{{context}}

USER QUESTION: {{question}}`

const defaultDeclineMessage = "I could not find documentation covering this question. Upload the relevant manual or rephrase the question."

func DefaultPrompts() Prompts {
	return Prompts{
		Vision:  defaultVisionPrompt,
		Answer:  defaultAnswerPrompt,
		Decline: defaultDeclineMessage,
	}
}

// Merge fills empty fields from DefaultPrompts.
func (p Prompts) Merge() Prompts {
	def := DefaultPrompts()
	if strings.TrimSpace(p.Vision) == "" {
		p.Vision = def.Vision
	}
	if strings.TrimSpace(p.Answer) == "" {
		p.Answer = def.Answer
	}
	if strings.TrimSpace(p.Decline) == "" {
		p.Decline = def.Decline
	}
	return p
}

func (p Prompts) Validate() error {
	if !strings.Contains(p.Answer, "{{context}}") || !strings.Contains(p.Answer, "{{question}}") {
		return WrapError(ErrInvalidInput, "validate prompts", fmt.Errorf("answer prompt needs {{context}} and {{question}}"))
	}
	return nil
}

// RenderAnswer fills the answer template. Evidence is numbered in rank order
// and labelled with its kind and source file.
func (p Prompts) RenderAnswer(question string, evidence []Evidence) string {
	var b strings.Builder
	for i, ev := range evidence {
		label := "text"
		if ev.Kind == KindImageDescription {
			label = "image description"
		}
		fmt.Fprintf(&b, "[%d] (%s, %s)\n%s\n\n", i+1, label, ev.Filename, strings.TrimSpace(ev.Text))
	}
	return strings.NewReplacer(
		"{{context}}", strings.TrimSpace(b.String()),
		"{{question}}", strings.TrimSpace(question),
	).Replace(p.Answer)
}
