// Package composer turns ranked search results into a bounded context block
// and composes the final generation prompt.
package composer

import (
	"fmt"
	"strings"

	"github.com/srhkb/kbchat/internal/knowledge"
)

// DefaultMaxContextChars bounds the assembled context so the prompt can't
// grow with the knowledge base.
const DefaultMaxContextChars = 8000

const groundedTemplate = `Based on the following context from the knowledge base, provide a detailed answer to the question.
If the context doesn't fully address the question, supplement with relevant general knowledge.

Context:
%s

Question: %s

Please provide:
1. A direct answer to the question
2. Any relevant additional information
3. Related topics or suggestions
4. Sources of information when available

Answer:`

const ungroundedTemplate = `You are an AI assistant for SRH Hochschule Heidelberg. The following question was not found in our knowledge base.
Please provide a general answer while noting that for specific, up-to-date details, the user should consult official sources.

Question: %s

Please provide:
1. A general answer based on available information
2. A note about consulting official sources for specific details
3. Any relevant suggestions or related topics

Answer:`

// emptyContextDisclaimer is appended when a query passed the relevance gate
// but retrieval produced nothing; the grounded template is kept regardless.
const emptyContextDisclaimer = "(The knowledge base returned no matching entries for this question.)"

// Composer assembles retrieval context and selects the generation prompt
// template.
type Composer struct {
	maxContextChars int
}

// New creates a Composer with the given character budget for assembled
// context. If maxContextChars <= 0, DefaultMaxContextChars is used.
func New(maxContextChars int) *Composer {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Composer{maxContextChars: maxContextChars}
}

// BuildContext concatenates result contents in ranked order, separated by a
// blank line. Results that would push the total past the character budget are
// dropped; assembly continues with later (smaller) results.
func (c *Composer) BuildContext(results []knowledge.SearchResult) string {
	var sb strings.Builder
	remaining := c.maxContextChars

	for _, res := range results {
		if res.Content == "" {
			continue
		}
		need := len(res.Content)
		if sb.Len() > 0 {
			need += 2
		}
		if need > remaining {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(res.Content)
		remaining -= need
	}

	return sb.String()
}

// BuildPrompt selects the grounded or ungrounded template. Selection is
// solely a function of the relevance verdict: a relevant query with empty
// context still gets the grounded template, with a disclaimer in place of
// the context block.
func (c *Composer) BuildPrompt(query, context string, grounded bool) string {
	if !grounded {
		return fmt.Sprintf(ungroundedTemplate, query)
	}
	if context == "" {
		context = emptyContextDisclaimer
	}
	return fmt.Sprintf(groundedTemplate, context, query)
}
