package stream

import (
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// TextChunk is implemented by fragment types that know their own text.
type TextChunk interface {
	ChunkText() string
}

// deltaPaths are the nested locations structured delta events carry text at.
var deltaPaths = [][]string{
	{"delta", "text"},
	{"contentBlockDelta", "delta", "text"},
	{"text"},
}

// ExtractText pulls the text out of a stream fragment. It reports false when
// the fragment has no recognizable text.
func ExtractText(chunk any) (string, bool) {
	switch v := chunk.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case *schema.Message:
		if v == nil {
			return "", false
		}
		return v.Content, true
	case schema.Message:
		return v.Content, true
	case contractx.Message:
		return v.Text(), true
	case TextChunk:
		return v.ChunkText(), true
	case map[string]any:
		for _, path := range deltaPaths {
			if text, ok := lookupString(v, path); ok {
				return text, true
			}
		}
	}
	return "", false
}

func lookupString(m map[string]any, path []string) (string, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[key]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

// FromMessages adapts an eino message stream into a fragment stream.
func FromMessages(sr *schema.StreamReader[*schema.Message]) *schema.StreamReader[any] {
	return schema.StreamReaderWithConvert(sr, func(msg *schema.Message) (any, error) {
		return msg, nil
	})
}

// FromStrings builds a finite fragment stream, mostly for tests and canned agents.
func FromStrings(chunks ...string) *schema.StreamReader[any] {
	items := make([]any, 0, len(chunks))
	for _, c := range chunks {
		items = append(items, c)
	}
	return schema.StreamReaderFromArray(items)
}
