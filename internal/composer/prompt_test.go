package composer

import (
	"strings"
	"testing"

	"github.com/srhkb/kbchat/internal/knowledge"
)

func results(contents ...string) []knowledge.SearchResult {
	out := make([]knowledge.SearchResult, len(contents))
	for i, c := range contents {
		out[i].Content = c
	}
	return out
}

func TestBuildContext(t *testing.T) {
	c := New(0)

	got := c.BuildContext(results("first entry", "second entry"))
	want := "first entry\n\nsecond entry"
	if got != want {
		t.Errorf("BuildContext = %q, want %q", got, want)
	}
}

func TestBuildContextEmpty(t *testing.T) {
	c := New(0)
	if got := c.BuildContext(nil); got != "" {
		t.Errorf("BuildContext(nil) = %q, want empty", got)
	}
	if got := c.BuildContext(results("", "")); got != "" {
		t.Errorf("BuildContext of empty contents = %q, want empty", got)
	}
}

func TestBuildContextBudget(t *testing.T) {
	// Budget fits the first and third result; the oversized second one is
	// skipped without ending assembly.
	c := New(20)
	got := c.BuildContext(results("aaaa", strings.Repeat("b", 30), "cccc"))
	want := "aaaa\n\ncccc"
	if got != want {
		t.Errorf("BuildContext = %q, want %q", got, want)
	}
}

func TestBuildPromptGrounded(t *testing.T) {
	c := New(0)
	prompt := c.BuildPrompt("what are the tuition fees", "Tuition is 1500 per semester.", true)

	if !strings.Contains(prompt, "Context:\nTuition is 1500 per semester.") {
		t.Error("grounded prompt missing context block")
	}
	if !strings.Contains(prompt, "Question: what are the tuition fees") {
		t.Error("grounded prompt missing question")
	}
}

func TestBuildPromptUngrounded(t *testing.T) {
	c := New(0)
	prompt := c.BuildPrompt("what is the weather", "", false)

	if !strings.Contains(prompt, "was not found in our knowledge base") {
		t.Error("ungrounded prompt missing framing")
	}
	if strings.Contains(prompt, "Context:") {
		t.Error("ungrounded prompt must not carry a context block")
	}
}

func TestBuildPromptGroundedEmptyContext(t *testing.T) {
	c := New(0)
	prompt := c.BuildPrompt("admissions", "", true)

	if !strings.Contains(prompt, emptyContextDisclaimer) {
		t.Error("grounded prompt with empty context missing disclaimer")
	}
	if !strings.Contains(prompt, "Based on the following context") {
		t.Error("relevance verdict must select the grounded template even with empty context")
	}
}
