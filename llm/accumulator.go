package llm

import (
	"fmt"
	"strings"
)

// callAccumulator assembles complete tool calls from streamed fragments.
// Fragments are addressed by a small integer index; id and name stick on
// first sight while argument text concatenates in arrival order.
type callAccumulator struct {
	items []callBuilder
}

type callBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (a *callAccumulator) ensure(index int) *callBuilder {
	if index < 0 {
		index = 0
	}
	for len(a.items) <= index {
		a.items = append(a.items, callBuilder{})
	}
	return &a.items[index]
}

func (a *callAccumulator) apply(d ToolCallDelta) {
	it := a.ensure(d.Index)
	if it.id == "" && strings.TrimSpace(d.ID) != "" {
		it.id = d.ID
	}
	if strings.TrimSpace(d.Name) != "" {
		it.name += d.Name
	}
	if d.Arguments != "" {
		it.args.WriteString(d.Arguments)
	}
}

func (a *callAccumulator) empty() bool {
	return len(a.items) == 0
}

// flush converts accumulated fragments into complete ToolCalls, minting
// call_<index> ids when the provider sent none. Indexes that never received
// a name (padding from sparse index sequences) are dropped.
func (a *callAccumulator) flush() []ToolCall {
	var out []ToolCall
	for i := range a.items {
		it := &a.items[i]
		name := strings.TrimSpace(it.name)
		if name == "" {
			continue
		}
		args := strings.TrimSpace(it.args.String())
		if args == "" {
			args = "{}"
		}
		id := it.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out = append(out, ToolCall{ID: id, Name: name, Arguments: args})
	}
	return out
}
