package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// IsConsecutiveRole reports whether appending msg would put two messages of
// the same role at the tail of the log.
func IsConsecutiveRole(log []contractx.TimestampedMessage, msg contractx.Message) bool {
	if len(log) == 0 {
		return false
	}
	return log[len(log)-1].Role == msg.Role
}

// EffectiveHistoryBound rounds an odd bound down so trimming keeps whole
// user/assistant pairs. Zero or negative means unbounded.
func EffectiveHistoryBound(maxHistorySize int) int {
	if maxHistorySize <= 0 {
		return 0
	}
	if maxHistorySize%2 != 0 {
		maxHistorySize--
	}
	return maxHistorySize
}

// TrimHistory keeps the most recent messages within the effective bound.
func TrimHistory(log []contractx.TimestampedMessage, maxHistorySize int) []contractx.TimestampedMessage {
	bound := EffectiveHistoryBound(maxHistorySize)
	if bound == 0 || len(log) <= bound {
		return log
	}
	return log[len(log)-bound:]
}

type agentLog struct {
	agentID  string
	messages []contractx.TimestampedMessage
}

// mergeChats interleaves per-agent logs by timestamp, stable by the order the
// logs were supplied and then by Seq. Assistant messages are tagged with the
// originating agent id.
func mergeChats(logs []agentLog) []contractx.Message {
	type entry struct {
		agentID string
		msg     contractx.TimestampedMessage
		order   int
	}

	var all []entry
	for _, l := range logs {
		for _, m := range l.messages {
			all = append(all, entry{agentID: l.agentID, msg: m, order: len(all)})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].msg, all[j].msg
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return all[i].order < all[j].order
	})

	out := make([]contractx.Message, 0, len(all))
	for _, e := range all {
		msg := e.msg.Message.Clone()
		if msg.Role == contractx.RoleAssistant {
			msg = tagAgent(msg, e.agentID)
		}
		out = append(out, msg)
	}
	return out
}

func tagAgent(msg contractx.Message, agentID string) contractx.Message {
	tag := "[" + agentID + "]"
	for i, block := range msg.Content {
		if block.ToolUse != nil || block.ToolResult != nil {
			continue
		}
		msg.Content[i].Text = tag + " " + block.Text
		return msg
	}
	msg.Content = append([]contractx.ContentBlock{{Text: tag}}, msg.Content...)
	return msg
}

func stamp(msg contractx.Message, now time.Time, seq int64) contractx.TimestampedMessage {
	return contractx.TimestampedMessage{
		Message:   msg.Clone(),
		Timestamp: now.UTC(),
		Seq:       seq,
	}
}

// appendMessage applies the shared append rules and reports whether the log
// changed.
func appendMessage(
	log []contractx.TimestampedMessage,
	msg contractx.Message,
	maxHistorySize int,
	now time.Time,
	seq int64,
) ([]contractx.TimestampedMessage, bool) {
	if IsConsecutiveRole(log, msg) {
		return log, false
	}
	log = append(log, stamp(msg, now, seq))
	return TrimHistory(log, maxHistorySize), true
}

func encodeLog(log []contractx.TimestampedMessage) (string, error) {
	if log == nil {
		log = []contractx.TimestampedMessage{}
	}
	raw, err := json.Marshal(log)
	if err != nil {
		return "", fmt.Errorf("%w: marshal conversation: %v", contractx.ErrStorage, err)
	}
	return string(raw), nil
}

func decodeLog(raw string) ([]contractx.TimestampedMessage, error) {
	if raw == "" {
		return nil, nil
	}
	var log []contractx.TimestampedMessage
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return nil, fmt.Errorf("%w: unmarshal conversation: %v", contractx.ErrStorage, err)
	}
	return log, nil
}

func lastSeq(log []contractx.TimestampedMessage) int64 {
	if len(log) == 0 {
		return 0
	}
	return log[len(log)-1].Seq
}
