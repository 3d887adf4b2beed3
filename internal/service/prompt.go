package service

import (
	"strings"
)

// FallbackSentence is what the model must say when the documentation does not
// cover the question.
const FallbackSentence = "I don't have information about that in my documentation. " +
	"For more details, please refer to our FAQ section or contact support."

// DefaultContextMaxChars caps the conversation block when no positive limit is given.
const DefaultContextMaxChars = 2000

const promptPreamble = "You are a helpful assistant for TaxFile website. " +
	"Answer questions using only the provided website documentation. Be concise and direct."

// BuildPrompt assembles the grounded generation prompt. conversation is the
// client-held chat history; it is trimmed to its last maxContextChars runes and
// fenced off as background that must not be used as a source of facts.
func BuildPrompt(question, conversation string, chunks []string, maxContextChars int) string {
	var b strings.Builder

	b.WriteString(promptPreamble)
	b.WriteString("\n\n")

	if conversation = strings.TrimSpace(conversation); conversation != "" && maxContextChars > 0 {
		b.WriteString("Previous conversation (for context only, not a source of facts):\n")
		b.WriteString(lastRunes(conversation, maxContextChars))
		b.WriteString("\n\n")
	}

	b.WriteString("Website Documentation:\n")
	b.WriteString(strings.Join(chunks, "\n\n"))
	b.WriteString("\n\n")

	b.WriteString("User Question: ")
	b.WriteString(question)
	b.WriteString("\n\n")

	b.WriteString("Answer the question based only on the documentation provided. ")
	b.WriteString(`If the answer is not in the documentation, say "`)
	b.WriteString(FallbackSentence)
	b.WriteString(`" Double-check the documentation before saying information is not available, `)
	b.WriteString("and if there's related information, provide that instead.")

	return b.String()
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
