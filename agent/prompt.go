package agent

import (
	"strings"
	"time"
)

// Variant selects the conversational register of the assistant.
type Variant string

const (
	// VariantAnalyst answers with figures and cited messages.
	VariantAnalyst Variant = "analyst"
	// VariantCasual answers conversationally, summarizing instead of
	// enumerating.
	VariantCasual Variant = "casual"
)

// PromptOverrides lets a caller replace parts of the generated system
// prompt. Empty fields keep the default text.
type PromptOverrides struct {
	Role         string
	Instructions string
}

const defaultRole = "You are ChatLab, an assistant that answers questions about an imported chat record. " +
	"You have tools for searching messages, computing session statistics, and looking up members."

const defaultInstructions = "Use the available tools to gather evidence before answering. " +
	"Prefer exact figures from tool results over estimates. " +
	"If a question cannot be answered from the chat record, say so plainly."

// buildSystemPrompt composes the system turn once per run.
func buildSystemPrompt(variant Variant, overrides PromptOverrides) string {
	var b strings.Builder

	role := overrides.Role
	if role == "" {
		role = defaultRole
	}
	b.WriteString(role)
	b.WriteString("\n\n")

	instructions := overrides.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}
	b.WriteString(instructions)

	switch variant {
	case VariantCasual:
		b.WriteString("\n\nKeep answers short and conversational. Summarize rather than enumerate.")
	default:
		b.WriteString("\n\nReport concrete numbers and quote relevant messages with their senders and timestamps.")
	}

	b.WriteString("\n\nToday's date is ")
	b.WriteString(time.Now().Format("2006-01-02"))
	b.WriteString(".")
	return b.String()
}
