package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/stupid-ve/ChatLab/errors"
	"github.com/stupid-ve/ChatLab/tools"
)

// chatMessage is one line of an exported chat record.
type chatMessage struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// recordStore answers analytic queries by scanning a chat export loaded into
// memory. It backs the built-in tools when the CLI is pointed at an export
// file.
type recordStore struct {
	sessionID string
	messages  []chatMessage
}

// loadRecord reads a JSON chat export: an array of {sender, text, timestamp}.
func loadRecord(path string) (*recordStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read chat export %q", path)
	}
	var messages []chatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, errors.Wrapf(err, "parse chat export %q", path)
	}
	return &recordStore{sessionID: path, messages: messages}, nil
}

func (s *recordStore) SearchMessages(ctx context.Context, q tools.SearchQuery) (string, error) {
	keyword := strings.ToLower(q.Keyword)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var hits []string
	for _, m := range s.messages {
		if q.Sender != "" && !strings.EqualFold(m.Sender, q.Sender) {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(m.Text), keyword) {
			continue
		}
		hits = append(hits, fmt.Sprintf("[%s] %s: %s", m.Timestamp, m.Sender, m.Text))
		if len(hits) >= limit {
			break
		}
	}
	if len(hits) == 0 {
		return "no matching messages", nil
	}
	return strings.Join(hits, "\n"), nil
}

func (s *recordStore) SessionStatistics(ctx context.Context, q tools.StatsQuery) (string, error) {
	counts := map[string]int{}
	for _, m := range s.messages {
		counts[m.Sender]++
	}

	senders := make([]string, 0, len(counts))
	for name := range counts {
		senders = append(senders, name)
	}
	sort.Slice(senders, func(i, j int) bool {
		if counts[senders[i]] != counts[senders[j]] {
			return counts[senders[i]] > counts[senders[j]]
		}
		return senders[i] < senders[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "total messages: %d\nmembers: %d\n", len(s.messages), len(senders))
	for _, name := range senders {
		fmt.Fprintf(&b, "%s: %d messages\n", name, counts[name])
	}
	return b.String(), nil
}

func (s *recordStore) FindMember(ctx context.Context, q tools.MemberQuery) (string, error) {
	name := strings.ToLower(q.Name)
	count := 0
	first, last := "", ""
	for _, m := range s.messages {
		if !strings.Contains(strings.ToLower(m.Sender), name) {
			continue
		}
		count++
		if first == "" {
			first = m.Timestamp
		}
		last = m.Timestamp
	}
	if count == 0 {
		return fmt.Sprintf("no member matching %q", q.Name), nil
	}
	return fmt.Sprintf("member %q: %d messages, first %s, last %s", q.Name, count, first, last), nil
}
