package agent

// Event is one observable step of an agent run. Consumers switch on the
// concrete type.
type Event interface {
	isEvent()
}

// ContentDeltaEvent carries a fragment of assistant text as it streams.
type ContentDeltaEvent struct {
	Text string
}

// ThinkingEvent carries reasoning text the model emitted inside think tags.
// It is surfaced for display but never enters the transcript.
type ThinkingEvent struct {
	Text string
}

// ToolStartEvent announces that a tool call is about to execute.
type ToolStartEvent struct {
	ID   string
	Name string
	Args string
}

// ToolResultEvent reports a finished tool call.
type ToolResultEvent struct {
	ID      string
	Name    string
	Result  string
	IsError bool
}

// DoneEvent is the terminal event of every run.
type DoneEvent struct {
	Result *Result
}

// ErrorEvent reports a failure that ended the run.
type ErrorEvent struct {
	Err error
}

func (ContentDeltaEvent) isEvent() {}
func (ThinkingEvent) isEvent()     {}
func (ToolStartEvent) isEvent()    {}
func (ToolResultEvent) isEvent()   {}
func (DoneEvent) isEvent()         {}
func (ErrorEvent) isEvent()        {}
