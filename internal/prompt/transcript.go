package prompt

import (
	"strings"

	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

// RenderCycles renders chat cycles as alternating observation, thinking
// and commands lines. Attempts whose answer could not be read are left out;
// a cycle stops at the prompt cycle that responded.
func RenderCycles(cycles []*types.ChatCycle) string {
	var b strings.Builder
	for _, c := range cycles {
		writeCycle(&b, c)
	}
	return b.String()
}

func writeCycle(b *strings.Builder, c *types.ChatCycle) {
	writeObservation(b, "user_request", c.Request.Text, c.Request.Varnames)
	for _, pc := range c.PromptCycles {
		if !pc.Complete() {
			continue
		}
		b.WriteString(LabelThinking + ": " + strings.TrimSpace(pc.Thinking) + "\n")
		b.WriteString(LabelCommands + ":\n")
		if cmds := cleanCommands(strings.Join(pc.Exec.RenderedCommands(), "\n")); cmds != "" {
			b.WriteString(cmds + "\n")
		}
		if pc.Exec.Response != nil {
			break
		}
		fb := pc.Exec.Feedback()
		writeObservation(b, "sys_"+string(fb.Status), fb.Text, fb.Varnames)
	}
}

// writeObservation writes e.g.
// observation: user_request(text='Make it brighter', variables=[image0])
func writeObservation(b *strings.Builder, kind, text string, varnames []string) {
	b.WriteString(LabelObservation + ": " + kind + "(text=" + value.Quote(text))
	if len(varnames) > 0 {
		b.WriteString(", variables=[" + strings.Join(varnames, ", ") + "]")
	}
	b.WriteString(")\n")
}

func cyclePointers(cycles []types.ChatCycle) []*types.ChatCycle {
	out := make([]*types.ChatCycle, len(cycles))
	for i := range cycles {
		out[i] = &cycles[i]
	}
	return out
}
