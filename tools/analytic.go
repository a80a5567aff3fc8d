package tools

import (
	"context"
	"math"

	"github.com/stupid-ve/ChatLab/llm"
)

// Store answers analytic queries over an imported chat record. Implementors
// return human-readable text ready to hand back to the model.
type Store interface {
	SearchMessages(ctx context.Context, q SearchQuery) (string, error)
	SessionStatistics(ctx context.Context, q StatsQuery) (string, error)
	FindMember(ctx context.Context, q MemberQuery) (string, error)
}

// SearchQuery selects messages by keyword and optionally by sender.
type SearchQuery struct {
	SessionID string
	Keyword   string
	Sender    string
	Limit     int
	Range     *TimeRange
}

// StatsQuery asks for aggregate figures over one session.
type StatsQuery struct {
	SessionID string
	Range     *TimeRange
}

// MemberQuery looks up a participant by display name or alias.
type MemberQuery struct {
	SessionID string
	Name      string
}

var searchMessagesDef = llm.ToolDefinition{
	Name:        "search_messages",
	Description: "Search the chat record for messages matching a keyword, optionally filtered by sender. Returns matching messages with their timestamps and senders.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keyword": map[string]any{
				"type":        "string",
				"description": "Text to search for in message bodies.",
			},
			"sender": map[string]any{
				"type":        "string",
				"description": "Only return messages sent by this member.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of messages to return.",
			},
		},
		"required": []any{"keyword"},
	},
}

var sessionStatisticsDef = llm.ToolDefinition{
	Name:        "session_statistics",
	Description: "Summarize the chat session: message counts, active members, activity over time.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}

var findMemberDef = llm.ToolDefinition{
	Name:        "find_member",
	Description: "Look up a chat member by display name or alias and return their profile and activity summary.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Display name or alias to look up.",
			},
		},
		"required": []any{"name"},
	},
}

// RegisterAnalytics wires the built-in analytic tools against a store. The
// per-conversation Context supplies the session scope and default limits.
func RegisterAnalytics(r *Registry, store Store) error {
	if err := r.Register(searchMessagesDef, func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		q := SearchQuery{
			Keyword: stringArg(args, "keyword"),
			Sender:  stringArg(args, "sender"),
			Limit:   intArg(args, "limit"),
		}
		if tc != nil {
			q.SessionID = tc.SessionID
			q.Range = tc.TimeFilter
			if q.Limit <= 0 {
				q.Limit = tc.Limit
			}
		}
		return store.SearchMessages(ctx, q)
	}); err != nil {
		return err
	}

	if err := r.Register(sessionStatisticsDef, func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		q := StatsQuery{}
		if tc != nil {
			q.SessionID = tc.SessionID
			q.Range = tc.TimeFilter
		}
		return store.SessionStatistics(ctx, q)
	}); err != nil {
		return err
	}

	return r.Register(findMemberDef, func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
		q := MemberQuery{Name: stringArg(args, "name")}
		if tc != nil {
			q.SessionID = tc.SessionID
		}
		return store.FindMember(ctx, q)
	})
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads a numeric argument. JSON numbers decode as float64, so the
// value is rounded toward zero.
func intArg(args map[string]any, key string) int {
	f, ok := args[key].(float64)
	if !ok {
		return 0
	}
	return int(math.Trunc(f))
}
