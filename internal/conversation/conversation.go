// Package conversation holds the running transcript and caller state that are
// threaded through every stage of a workflow run.
package conversation

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

type PartKind string

const (
	KindText       PartKind = "text"
	KindToolCall   PartKind = "tool_call"
	KindToolResult PartKind = "tool_result"
)

// ToolCall is a function invocation requested by a model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentPart is a tagged union. Only text parts carry user-visible prose and
// are subject to PII scrubbing; the other kinds pass through untouched.
type ContentPart struct {
	Kind       PartKind  `json:"type"`
	Text       string    `json:"text,omitempty"`
	ToolCall   *ToolCall `json:"tool_call,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Output     string    `json:"output,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Kind: KindText, Text: text}
}

type Entry struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

func UserText(text string) Entry {
	return Entry{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

func AssistantText(text string) Entry {
	return Entry{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// Text concatenates the text parts of the entry.
func (e Entry) Text() string {
	var out string
	for _, p := range e.Content {
		if p.Kind == KindText {
			out += p.Text
		}
	}
	return out
}

// History is the append-only transcript of one run. It is owned by the
// orchestrator and shared by pointer with every stage; it is not safe for
// concurrent writers.
type History struct {
	entries []Entry
}

func NewHistory(seed ...Entry) *History {
	h := &History{}
	h.Append(seed...)
	return h
}

func (h *History) Append(entries ...Entry) {
	for _, e := range entries {
		e.Content = append([]ContentPart(nil), e.Content...)
		h.entries = append(h.entries, e)
	}
}

func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of the transcript. Callers may pass it to a backend
// without risking mutation of the run's history.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[i] = Entry{Role: e.Role, Content: append([]ContentPart(nil), e.Content...)}
	}
	return out
}

// RewriteText replaces, in place, the text of every text part with the value
// returned by fn. Entry order and non-text parts are left untouched.
func (h *History) RewriteText(fn func(text string) string) {
	for i := range h.entries {
		for j := range h.entries[i].Content {
			part := &h.entries[i].Content[j]
			if part.Kind != KindText {
				continue
			}
			part.Text = fn(part.Text)
		}
	}
}

func (h *History) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

const (
	KeyInputAsText = "input_as_text"
	// KeyInputText is the legacy name some callers still send.
	KeyInputText = "input_text"
)

// State is the mutable per-run mapping built from caller input. Unknown caller
// fields pass through untouched.
type State map[string]any

func NewState(inputAsText string, extra map[string]any) State {
	s := State{}
	for k, v := range extra {
		s[k] = v
	}
	s[KeyInputAsText] = inputAsText
	return s
}

// String returns the value at key when it holds a string.
func (s State) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}
