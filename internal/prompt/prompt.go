package prompt

import (
	"strings"

	"github.com/ragsql/ragsql/internal/vectorstore"
)

// SystemInstruction is sent as the system message by chat-style providers.
const SystemInstruction = "Return only valid PostgreSQL SQL without fences."

// EmptyContextMarker stands in for the schema context when retrieval found
// nothing, so the model is told explicitly that it has no tables to use.
const EmptyContextMarker = "(no schema context available)"

// Build renders the generation prompt. Context chunks appear in the order
// given, most relevant first. The output depends only on the inputs.
func Build(question string, context []vectorstore.Match) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that writes syntactically correct PostgreSQL SQL based on the provided database schema.\n")
	b.WriteString("- Use only tables, columns, and relations that appear in the context.\n")
	b.WriteString("- Write exactly one SQL statement.\n")
	b.WriteString("- Use only read-only SELECT queries. Never modify data or schema.\n")
	b.WriteString("- Prefer simple SELECTs. If ambiguous, make reasonable assumptions.\n")
	b.WriteString("- Return ONLY the SQL query. Do not include explanations or markdown fences.\n\n")

	b.WriteString("Schema Context:\n")
	written := 0
	for _, match := range context {
		text := strings.TrimSpace(match.Chunk.Text)
		if text == "" {
			continue
		}
		if written > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
		written++
	}
	if written == 0 {
		b.WriteString(EmptyContextMarker)
	}
	b.WriteString("\n\n")

	b.WriteString("User Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nSQL:")
	return b.String()
}
