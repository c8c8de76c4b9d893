package models

import (
	"strings"
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "hello", "hello"},
		{"uppercase", "Hello World", "hello-world"},
		{"underscores", "my_doc_name", "my-doc-name"},
		{"special chars stripped", "Hello, World!", "hello-world"},
		{"numbers preserved", "doc-v2.1", "doc-v21"},
		{"mixed", "My Cool_Doc (v3)", "my-cool-doc-v3"},
		{"empty string", "", ""},
		{"only special chars", "!@#$%", ""},
		{"consecutive spaces", "hello   world", "hello---world"},
		{"unicode stripped", "café résumé", "caf-rsum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlugifyPaths(t *testing.T) {
	if got := Slugify("guides/Pairing_Speakers"); got != "guides-pairing-speakers" {
		t.Errorf("Slugify path = %q", got)
	}
}

func TestRecordIDString(t *testing.T) {
	id := surrealmodels.RecordID{Table: "chunk", ID: "abc"}
	s, err := RecordIDString(id)
	if err != nil || s != "abc" {
		t.Fatalf("RecordIDString = %q, %v", s, err)
	}

	if _, err := RecordIDString(surrealmodels.RecordID{Table: "chunk", ID: 42}); err == nil {
		t.Error("expected error for non-string id")
	}
}

func TestChatDocumentTurns(t *testing.T) {
	doc := ChatDocument{Messages: []ChatMessage{
		{Sender: SenderUser, Content: "hi"},
		{Sender: SenderBot, Content: "hello"},
		{Sender: SenderUser, Content: "unanswered"},
		{Sender: SenderUser, Content: "what did I order?"},
		{Sender: SenderBot, Content: "a speaker", Agent: "structured_query"},
	}}

	turns := doc.Turns()
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[1] != [2]string{"what did I order?", "a speaker"} {
		t.Errorf("unexpected turn %v", turns[1])
	}

	s := doc.Summarize()
	if s.Title != "hi" || s.Messages != 5 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestSummarizeTruncatesTitle(t *testing.T) {
	long := strings.Repeat("a", 100)
	doc := ChatDocument{Messages: []ChatMessage{{Sender: SenderUser, Content: long}}}
	if got := []rune(doc.Summarize().Title); len(got) != 60 {
		t.Errorf("title length = %d, want 60", len(got))
	}
}
