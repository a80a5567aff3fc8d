package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func compatClientFor(t *testing.T, srv *httptest.Server) *CompatClient {
	t.Helper()
	c, err := NewCompatClient(ClientConfig{Model: "test-model", BaseURL: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewCompatClient: %v", err)
	}
	return c
}

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "%s\n\n", frame)
			flusher.Flush()
		}
	}
}

func drain(t *testing.T, ch <-chan StreamEvent) (content string, deltas []ToolCallDelta, done *StreamEvent) {
	t.Helper()
	for ev := range ch {
		switch {
		case ev.Err != nil:
			t.Fatalf("unexpected stream error: %v", ev.Err)
		case ev.Done:
			final := ev
			done = &final
		case ev.ToolCallDelta != nil:
			deltas = append(deltas, *ev.ToolCallDelta)
		default:
			content += ev.Content
		}
	}
	if done == nil {
		t.Fatal("stream closed without a terminal event")
	}
	return content, deltas, done
}

func TestChatStreamContentAndDone(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		`data: [DONE]`,
	}))
	defer srv.Close()

	ch, err := compatClientFor(t, srv).ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	content, deltas, done := drain(t, ch)

	if content != "Hello" {
		t.Errorf("content = %q, want %q", content, "Hello")
	}
	if len(deltas) != 0 {
		t.Errorf("unexpected tool deltas: %+v", deltas)
	}
	if done.FinishReason != FinishStop {
		t.Errorf("finish = %q, want stop", done.FinishReason)
	}
	if done.Usage == nil || done.Usage.TotalTokens != 5 {
		t.Errorf("usage not carried through: %+v", done.Usage)
	}
}

func TestChatStreamToolCallFragmentOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":1"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}))
	defer srv.Close()

	ch, err := compatClientFor(t, srv).ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "go"}}, Options{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	_, deltas, done := drain(t, ch)

	if len(deltas) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(deltas))
	}
	if done.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q, want tool_calls", done.FinishReason)
	}
	if len(done.ToolCalls) != 1 {
		t.Fatalf("expected 1 assembled call, got %d", len(done.ToolCalls))
	}
	call := done.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "lookup" || call.Arguments != `{"a":1}` {
		t.Errorf("assembled call = %+v", call)
	}
}

func TestChatStreamSkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`data: {"choices":[{"delta":{"content":"ok "}}]}`,
		`data: {not json at all`,
		`: keepalive comment`,
		`data: {"choices":[{"delta":{"content":"still ok"}}]}`,
		`data: [DONE]`,
	}))
	defer srv.Close()

	ch, err := compatClientFor(t, srv).ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	content, _, done := drain(t, ch)

	if content != "ok still ok" {
		t.Errorf("content = %q, malformed frame should be skipped not fatal", content)
	}
	if done.FinishReason != FinishStop {
		t.Errorf("finish = %q, want stop", done.FinishReason)
	}
}

func TestChatStreamCancellationFinishesCleanly(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := compatClientFor(t, srv).ChatStream(ctx, []Message{{Role: RoleUser, Content: "x"}}, Options{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var got []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				for _, e := range got {
					if e.Err != nil {
						t.Fatalf("cancellation surfaced as error: %v", e.Err)
					}
				}
				last := got[len(got)-1]
				if !last.Done || last.FinishReason != FinishStop {
					t.Errorf("terminal event = %+v, want finished(stop)", last)
				}
				return
			}
			got = append(got, ev)
			if ev.Content == "partial" {
				cancel()
			}
		case <-timeout:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestChatNon2xxCarriesServerDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	_, err := compatClientFor(t, srv).Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry status and server detail, got: %v", err)
	}
}

func TestChatHonorsClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect;
		// with it unread, r.Context() is never canceled and Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewCompatClient(ClientConfig{
		Model:   "test-model",
		BaseURL: srv.URL,
		APIKey:  "secret",
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCompatClient: %v", err)
	}

	start := time.Now()
	_, err = c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{})
	if err == nil {
		t.Fatal("expected timeout error from a stalled server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Chat returned after %v, configured timeout not applied", elapsed)
	}
}

func TestFinishFromWireMapsError(t *testing.T) {
	if got := finishFromWire("error", false); got != FinishError {
		t.Errorf("finishFromWire(error) = %q, want %q", got, FinishError)
	}
	if got := finishFromWire("stop", true); got != FinishToolCalls {
		t.Errorf("finishFromWire(stop, calls) = %q, want %q", got, FinishToolCalls)
	}
}

func TestChatBlockingMapsToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("authorization header = %q", auth)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"search_messages","arguments":"{\"keyword\":\"ship\"}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`)
	}))
	defer srv.Close()

	resp, err := compatClientFor(t, srv).Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search_messages" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 10 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}
