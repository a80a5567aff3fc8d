package agent

import "strings"

// streamGate filters streamed assistant text before it reaches the caller.
// The moment the tail of the accumulated text could be the start of a
// tool-call or think tag, emission stops and everything from that point on
// is withheld until the tag either resolves or the stream ends. Resolution
// happens after the stream completes, when the full text is parsed; the
// gate itself only decides what is safe to show mid-stream.
type streamGate struct {
	buf       strings.Builder
	emitted   int
	withhold  bool
	sentinels []string
}

func newStreamGate() *streamGate {
	return &streamGate{sentinels: []string{toolCallOpen, thinkOpen}}
}

// feed appends a streamed fragment and returns the portion that is safe to
// emit now. Once a possible tag opening is seen, feed returns "" for the
// rest of the stream.
func (g *streamGate) feed(fragment string) string {
	g.buf.WriteString(fragment)
	if g.withhold {
		return ""
	}

	text := g.buf.String()
	pending := text[g.emitted:]

	hold := len(pending)
	for _, s := range g.sentinels {
		if idx := strings.Index(pending, s); idx >= 0 {
			g.withhold = true
			if idx < hold {
				hold = idx
			}
			continue
		}
		if idx := partialSuffix(pending, s); idx >= 0 && idx < hold {
			hold = idx
		}
	}

	safe := pending[:hold]
	g.emitted += len(safe)
	return safe
}

// text returns the full accumulated assistant text, withheld spans included.
func (g *streamGate) text() string {
	return g.buf.String()
}

// withheld reports whether the gate is currently holding content back.
func (g *streamGate) withheld() bool {
	return g.withhold || g.emitted < g.buf.Len()
}

// partialSuffix returns the offset where a proper prefix of sentinel starts
// at the end of text, or -1 if the tail cannot be a sentinel opening.
func partialSuffix(text, sentinel string) int {
	limit := len(sentinel) - 1
	if limit > len(text) {
		limit = len(text)
	}
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(text, sentinel[:n]) {
			return len(text) - n
		}
	}
	return -1
}
