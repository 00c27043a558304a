// ABOUTME: System prompt assembly and grounding context rendering
// ABOUTME: Sections are emitted in a fixed order with custom instructions last

package responder

import (
	"fmt"
	"strings"

	"github.com/shyanukant/waflow-sub000/internal/knowledge"
	"github.com/shyanukant/waflow-sub000/internal/llm"
	"github.com/shyanukant/waflow-sub000/internal/store"
)

// FilterPassages keeps passages scoring strictly above minScore, in order.
func FilterPassages(passages []knowledge.Passage, minScore float64) []knowledge.Passage {
	out := make([]knowledge.Passage, 0, len(passages))
	for _, p := range passages {
		if p.Score > minScore {
			out = append(out, p)
		}
	}
	return out
}

// BuildContext renders passages as "[Document i]" blocks, stopping once
// maxTokens is spent. The last block that fits partially is truncated. It
// returns the context and how many passages it includes.
func BuildContext(passages []knowledge.Passage, tokens *llm.TokenCounter, maxTokens int) (string, int) {
	var sb strings.Builder
	used := 0
	n := 0
	for i, p := range passages {
		block := fmt.Sprintf("[Document %d]\n%s\n\n", i+1, strings.TrimSpace(p.Content))
		cost := tokens.Count(block)
		if maxTokens > 0 && used+cost > maxTokens {
			remaining := maxTokens - used
			if remaining > 16 {
				sb.WriteString(tokens.Truncate(block, remaining))
				n++
			}
			break
		}
		sb.WriteString(block)
		used += cost
		n++
	}
	return strings.TrimSpace(sb.String()), n
}

// BuildSystemPrompt assembles the system instruction for agent.
func BuildSystemPrompt(agent *store.Agent, groundingContext string, leadInstructions []string) string {
	name := agent.DisplayName
	if name == "" {
		name = "the assistant"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s. Always present yourself as %s. ", name, name)
	sb.WriteString("Never say or imply that you are an AI, a bot or a language model.\n\n")

	sb.WriteString("Answer ONLY using the information in the reference documents below. ")
	sb.WriteString("Do not invent prices, policies, availability or any other facts. ")
	sb.WriteString("If the answer is not in the documents, say a team member will follow up personally and ask for the customer's email address.\n\n")

	if groundingContext != "" {
		sb.WriteString("Reference documents:\n")
		sb.WriteString(groundingContext)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("Reference documents: none available for this question.\n\n")
	}

	if agent.Persona != "" {
		fmt.Fprintf(&sb, "Persona: %s\n", agent.Persona)
	}
	if agent.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", agent.Tone)
	}
	if agent.Industry != "" {
		fmt.Fprintf(&sb, "Industry: %s\n", agent.Industry)
	}
	sb.WriteString("Keep replies short and suitable for a chat app.\n")

	if len(leadInstructions) > 0 {
		sb.WriteString("\n")
		for _, line := range leadInstructions {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	if ci := strings.TrimSpace(agent.CustomInstructions); ci != "" {
		sb.WriteString("\nAdditional instructions:\n")
		sb.WriteString(ci)
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}
