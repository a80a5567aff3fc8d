package tools

import (
	"context"
	"testing"

	"github.com/stupid-ve/ChatLab/config"
	"github.com/stupid-ve/ChatLab/llm"
)

type fakeStore struct {
	search SearchQuery
	stats  StatsQuery
	member MemberQuery
}

func (f *fakeStore) SearchMessages(ctx context.Context, q SearchQuery) (string, error) {
	f.search = q
	return "search-result", nil
}

func (f *fakeStore) SessionStatistics(ctx context.Context, q StatsQuery) (string, error) {
	f.stats = q
	return "stats-result", nil
}

func (f *fakeStore) FindMember(ctx context.Context, q MemberQuery) (string, error) {
	f.member = q
	return "member-result", nil
}

func TestAnalyticsQueryMapping(t *testing.T) {
	r := NewRegistry(config.ToolFilter{}, nil)
	store := &fakeStore{}
	if err := RegisterAnalytics(r, store); err != nil {
		t.Fatalf("RegisterAnalytics: %v", err)
	}
	if len(r.Definitions()) != 3 {
		t.Fatalf("expected 3 analytic tools, got %d", len(r.Definitions()))
	}

	tc := &Context{SessionID: "export-1", Limit: 7}
	results := r.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "search_messages", Arguments: `{"keyword":"deadline","sender":"ann"}`},
		{ID: "2", Name: "session_statistics", Arguments: "{}"},
		{ID: "3", Name: "find_member", Arguments: `{"name":"bob"}`},
	}, tc)

	for i, res := range results {
		if res.Failed() {
			t.Fatalf("call %d failed: %v", i, res.Err)
		}
	}

	if store.search.Keyword != "deadline" || store.search.Sender != "ann" {
		t.Errorf("search query = %+v", store.search)
	}
	if store.search.SessionID != "export-1" || store.search.Limit != 7 {
		t.Errorf("conversation scope not applied: %+v", store.search)
	}
	if store.stats.SessionID != "export-1" {
		t.Errorf("stats query = %+v", store.stats)
	}
	if store.member.Name != "bob" || store.member.SessionID != "export-1" {
		t.Errorf("member query = %+v", store.member)
	}
}

func TestAnalyticsExplicitLimitWins(t *testing.T) {
	r := NewRegistry(config.ToolFilter{}, nil)
	store := &fakeStore{}
	if err := RegisterAnalytics(r, store); err != nil {
		t.Fatal(err)
	}

	r.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "search_messages", Arguments: `{"keyword":"x","limit":3}`},
	}, &Context{Limit: 50})

	if store.search.Limit != 3 {
		t.Errorf("limit = %d, model-supplied limit should win", store.search.Limit)
	}
}

func TestAnalyticsRequireKeyword(t *testing.T) {
	r := NewRegistry(config.ToolFilter{}, nil)
	if err := RegisterAnalytics(r, &fakeStore{}); err != nil {
		t.Fatal(err)
	}

	results := r.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "search_messages", Arguments: `{"sender":"ann"}`},
	}, nil)
	if !results[0].Failed() {
		t.Error("search without keyword should fail schema validation")
	}
}
