package tools

import "time"

// TimeRange bounds an analytic query to a window of the imported chat
// record.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Context is the execution scope handed to every tool handler: which chat
// session the conversation is about, an optional time window, and an
// optional cap on result counts. How handlers reach storage is their own
// business.
type Context struct {
	SessionID  string
	TimeFilter *TimeRange
	Limit      int
}
