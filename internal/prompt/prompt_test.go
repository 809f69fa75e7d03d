package prompt

import (
	"strings"
	"testing"

	"github.com/ragsql/ragsql/internal/vectorstore"
)

func matches(texts ...string) []vectorstore.Match {
	out := make([]vectorstore.Match, 0, len(texts))
	for i, text := range texts {
		out = append(out, vectorstore.Match{Chunk: vectorstore.Chunk{ID: string(rune('a' + i)), Text: text}, Score: 1 - float64(i)/10})
	}
	return out
}

func TestBuildIsDeterministicAndOrdered(t *testing.T) {
	ctx := matches("Table public.users.\nColumns:\n- email (text)", "Table public.orders.")
	first := Build("list all user emails", ctx)
	second := Build("list all user emails", ctx)
	if first != second {
		t.Fatal("Build() is not deterministic")
	}
	users := strings.Index(first, "Table public.users.")
	orders := strings.Index(first, "Table public.orders.")
	if users < 0 || orders < 0 || users > orders {
		t.Fatalf("context order wrong in prompt:\n%s", first)
	}
	if !strings.Contains(first, "User Question: list all user emails\n\nSQL:") {
		t.Fatalf("prompt tail = %q", first[len(first)-60:])
	}
	if !strings.Contains(first, "read-only SELECT") || !strings.Contains(first, "exactly one SQL statement") {
		t.Fatalf("prompt missing safety rules:\n%s", first)
	}
	if strings.Contains(first, EmptyContextMarker) {
		t.Fatal("prompt with context must not contain the empty marker")
	}
}

func TestBuildEmptyContextUsesMarker(t *testing.T) {
	got := Build("how many users?", nil)
	if !strings.Contains(got, "Schema Context:\n"+EmptyContextMarker+"\n\n") {
		t.Fatalf("Build() = %q", got)
	}
	if got != Build("how many users?", matches("   ")) {
		t.Fatal("blank chunk text should render like empty context")
	}
}
