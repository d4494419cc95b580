// Package prompt renders conversation state into the single prompt string sent to the generator.
package prompt

import (
	"fmt"
	"strings"

	"ragchat/internal/domain"
)

// DefaultSystemPrompt asks for the JSON answer shape generation.ParseAnswer expects.
const DefaultSystemPrompt = `You are the company's internal knowledge assistant.

You answer questions using the provided knowledge base context when it is available.
Answer in clear, well-structured paragraphs, typically 3-6 sentences rather than a single short line.

Reply ONLY with valid JSON of this shape:

{
  "answer": "<a helpful multi-sentence paragraph answer to the user>",
  "sources": ["<source_1>", "<source_2>"]
}

Rules:
- "answer" is a coherent paragraph, not bullet points.
- "sources" lists the file names or short descriptors of where the information came from; use [] when no context was used.
- Do not use markdown formatting or code fences.
- Output nothing but the JSON object.`

const finalInstruction = "Now produce ONLY the FINAL JSON answer as specified above."

// Builder renders prompts with a fixed system prompt.
type Builder struct {
	system string
}

// NewBuilder creates a Builder. An empty system prompt selects DefaultSystemPrompt.
func NewBuilder(system string) *Builder {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return &Builder{system: strings.TrimSpace(system)}
}

// Build renders the system prompt, every turn as "<Role>: <content>" and, when
// docs is non-empty, the numbered retrieved context.
func (b *Builder) Build(messages []domain.Turn, docs []domain.RetrievedDoc) string {
	var sb strings.Builder
	sb.WriteString(b.system)
	sb.WriteString("\n\nConversation so far:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role.Label(), m.Content)
	}
	if len(docs) > 0 {
		sb.WriteString("\nContext from knowledge base:\n")
		for i, d := range docs {
			source := d.Source
			if source == "" {
				source = "unknown"
			}
			fmt.Fprintf(&sb, "[DOC %d]\n[source: %s]\n%s\n\n", i+1, source, d.Text)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(finalInstruction)
	sb.WriteString("\n")
	return sb.String()
}
