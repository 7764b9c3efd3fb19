// Package prompt renders conversations into the model prompt and reads the
// model's answers back. Rendering and extraction share one textual format:
// exemplars are written exactly the way the model is expected to answer.
package prompt

import (
	"fmt"
	"strings"

	"chat2edit/internal/logging"
	"chat2edit/internal/provider"
	"chat2edit/internal/types"
)

// Default section texts.
const (
	DefaultFunctionsHeader    = "Only use these functions:"
	DefaultExemplarsHeader    = "Some examples:"
	DefaultConversationHeader = "Conversation:"
	DefaultInstruction        = "Follow the examples to produce your next thinking and commands (give answer in plain text):"
)

// Input is everything one prompt is built from.
type Input struct {
	// Functions are listed by signature, in order.
	Functions []*provider.Function
	// Exemplars may be empty, in which case the section is left out.
	Exemplars []provider.Exemplar
	// Cycles is the history window followed by the cycle in progress.
	Cycles []*types.ChatCycle
}

// Assembler lays out the prompt sections.
type Assembler struct {
	sectionSeparator   string
	functionsHeader    string
	exemplarsHeader    string
	conversationHeader string
	instruction        string
}

// NewAssembler creates an assembler with the default section texts.
func NewAssembler() *Assembler {
	return &Assembler{
		sectionSeparator:   "\n\n",
		functionsHeader:    DefaultFunctionsHeader,
		exemplarsHeader:    DefaultExemplarsHeader,
		conversationHeader: DefaultConversationHeader,
		instruction:        DefaultInstruction,
	}
}

// SetInstruction replaces the closing instruction.
func (a *Assembler) SetInstruction(s string) {
	if s != "" {
		a.instruction = s
	}
}

// Assemble renders the prompt: function signatures, numbered example
// transcripts, the conversation, then the instruction.
func (a *Assembler) Assemble(in Input) string {
	var sections []string

	if len(in.Functions) > 0 {
		sigs := make([]string, len(in.Functions))
		for i, fn := range in.Functions {
			sigs[i] = fn.Signature()
		}
		sections = append(sections, a.functionsHeader+"\n"+strings.Join(sigs, "\n"))
	}

	if len(in.Exemplars) > 0 {
		examples := make([]string, 0, len(in.Exemplars)+1)
		examples = append(examples, a.exemplarsHeader)
		for i, ex := range in.Exemplars {
			examples = append(examples, fmt.Sprintf("Example %d:\n%s", i+1,
				strings.TrimRight(RenderCycles(cyclePointers(ex.Cycles)), "\n")))
		}
		sections = append(sections, strings.Join(examples, a.sectionSeparator))
	}

	sections = append(sections, a.conversationHeader+"\n"+RenderCycles(in.Cycles)+a.instruction)

	out := strings.Join(sections, a.sectionSeparator)
	stats := AnalyzePrompt(out)
	logging.PromptDebug("assembled prompt: %d functions, %d exemplars, %d cycles, ~%d tokens",
		len(in.Functions), len(in.Exemplars), len(in.Cycles), stats.TokenCount)
	return out
}

// Stats describes an assembled prompt.
type Stats struct {
	CharCount  int
	TokenCount int
	LineCount  int
}

// AnalyzePrompt returns statistics about an assembled prompt.
func AnalyzePrompt(prompt string) Stats {
	return Stats{
		CharCount:  len(prompt),
		TokenCount: EstimateTokens(prompt),
		LineCount:  strings.Count(prompt, "\n") + 1,
	}
}

// EstimateTokens approximates the token count of content.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	// chars/4 is a reasonable approximation for English text
	return (len(content) + 3) / 4
}
