package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/spotter/internal/session"
)

// InterruptedToolResult is the failure text used for a tool call whose result
// was never recorded.
const InterruptedToolResult = "Error: tool call was interrupted before completion"

// ContextBuilder turns a session log into the exact prompt sent to the model.
// Its output is a pure function of the log, the instructions, the tool list
// and the profile snapshot.
type ContextBuilder struct {
	Instructions string
	Tools        *ToolRegistry
}

// Context is one assembled prompt. It is never stored.
type Context struct {
	System   []SystemBlock
	Tools    []ToolSchema
	Messages []ChatMessage

	// HistoricalBlocks counts the leading message blocks whose source events
	// are all at or below Boundary. The last of them carries the cache marker.
	HistoricalBlocks int
	Boundary         int64
	MaxSequence      int64
}

// Historical returns the cache-eligible prefix of Messages.
func (c *Context) Historical() []ChatMessage {
	remaining := c.HistoricalBlocks
	var out []ChatMessage
	for _, m := range c.Messages {
		if remaining == 0 {
			break
		}
		n := min(len(m.Content), remaining)
		out = append(out, ChatMessage{Role: m.Role, Content: append([]ContentBlock(nil), m.Content[:n]...)})
		remaining -= n
	}
	return out
}

// Request wraps the context into a call that must invoke exactly one tool.
func (c *Context) Request(model string, maxOutputTokens int, temperature float32) ChatRequest {
	return ChatRequest{
		Model:           model,
		System:          c.System,
		Messages:        c.Messages,
		Tools:           c.Tools,
		ToolChoice:      ToolChoice{Type: ToolChoiceAny},
		MaxOutputTokens: maxOutputTokens,
		Temperature:     temperature,
	}
}

// Build folds events, which must be the complete log of sess in ascending
// order, into a Context. profile is the serialized slow-changing user
// profile; it may be empty.
func (b *ContextBuilder) Build(sess *session.Session, events []session.Event, profile string) (*Context, error) {
	if sess == nil {
		return nil, errors.New("build context: nil session")
	}

	f := &folder{}
	var maxSeq int64
	for _, ev := range events {
		if ev.Sequence <= maxSeq {
			return nil, &ProtocolError{Sequence: ev.Sequence, Err: fmt.Errorf("event out of order after %d", maxSeq)}
		}
		maxSeq = ev.Sequence
		if err := f.fold(ev); err != nil {
			return nil, err
		}
	}
	if f.pending != nil {
		return nil, &ProtocolError{
			Sequence: f.pending.seq,
			Err:      fmt.Errorf("%w: %s (%s)", ErrDanglingToolCall, f.pending.id, f.pending.name),
		}
	}

	msgs, historical := f.messages(sess.CacheBoundarySequence)
	if err := ValidateMessages(msgs); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	system := []SystemBlock{{Text: b.Instructions, CacheBreakpoint: true}}
	if strings.TrimSpace(profile) != "" {
		system = append(system, SystemBlock{Text: profile, CacheBreakpoint: true})
	}

	var tools []ToolSchema
	if b.Tools != nil {
		tools = b.Tools.Schemas()
	}

	return &Context{
		System:           system,
		Tools:            tools,
		Messages:         msgs,
		HistoricalBlocks: historical,
		Boundary:         sess.CacheBoundarySequence,
		MaxSequence:      maxSeq,
	}, nil
}

// sourcedBlock remembers which event produced a block.
type sourcedBlock struct {
	block ContentBlock
	src   session.Event
}

type foldedMessage struct {
	role   MessageRole
	blocks []sourcedBlock
}

type pendingCall struct {
	id, name string
	seq      int64
}

// folder accumulates messages in a single pass over the log. Blocks are only
// ever appended, so folding a longer log never changes what a shorter one
// produced.
type folder struct {
	msgs    []foldedMessage
	pending *pendingCall
	held    []sourcedBlock // context that arrived while a call was pending
}

func (f *folder) fold(ev session.Event) error {
	switch ev.Type {
	case session.EventUserMessage:
		d, err := ev.UserMessage()
		if err != nil {
			return &ProtocolError{Sequence: ev.Sequence, Err: err}
		}
		f.addContext(sourcedBlock{TextBlock(d.Text), ev})

	case session.EventKnowledge:
		d, err := ev.Knowledge()
		if err != nil {
			return &ProtocolError{Sequence: ev.Sequence, Err: err}
		}
		f.addContext(sourcedBlock{TextBlock(FormatKnowledge(d)), ev})

	case session.EventArtifact:
		d, err := ev.Artifact()
		if err != nil {
			return &ProtocolError{Sequence: ev.Sequence, Err: err}
		}
		f.addContext(sourcedBlock{TextBlock(FormatArtifact(d)), ev})

	case session.EventToolCall:
		d, err := ev.ToolCall()
		if err != nil {
			return &ProtocolError{Sequence: ev.Sequence, Err: err}
		}
		if f.pending != nil {
			// An earlier call never got its result; close it in context only.
			f.resolve(sourcedBlock{ToolResultBlock(f.pending.id, InterruptedToolResult, true), ev})
		}
		if len(f.msgs) == 0 {
			return &ProtocolError{Sequence: ev.Sequence, Err: errors.New("tool call before any user message")}
		}
		f.msgs = append(f.msgs, foldedMessage{
			role:   RoleAssistant,
			blocks: []sourcedBlock{{ToolUseBlock(d.CallID, d.ToolName, normalizeArgs(d.Arguments)), ev}},
		})
		f.pending = &pendingCall{id: d.CallID, name: d.ToolName, seq: ev.Sequence}

	case session.EventToolResult:
		d, err := ev.ToolResult()
		if err != nil {
			return &ProtocolError{Sequence: ev.Sequence, Err: err}
		}
		if f.pending == nil {
			return &ProtocolError{Sequence: ev.Sequence, Err: fmt.Errorf("result for %s without a pending call", d.CallID)}
		}
		if d.CallID != f.pending.id {
			return &ProtocolError{Sequence: ev.Sequence, Err: fmt.Errorf("result for %s while %s is pending", d.CallID, f.pending.id)}
		}
		f.resolve(sourcedBlock{ToolResultBlock(d.CallID, toolResultText(d), !d.Success), ev})

	default:
		return &ProtocolError{Sequence: ev.Sequence, Err: fmt.Errorf("unknown event type %q", ev.Type)}
	}
	return nil
}

// addContext appends to the open user message, or holds the block until
// the pending call is resolved.
func (f *folder) addContext(b sourcedBlock) {
	if f.pending != nil {
		f.held = append(f.held, b)
		return
	}
	f.appendUser(b)
}

func (f *folder) appendUser(b sourcedBlock) {
	if n := len(f.msgs); n > 0 && f.msgs[n-1].role == RoleUser {
		f.msgs[n-1].blocks = append(f.msgs[n-1].blocks, b)
		return
	}
	f.msgs = append(f.msgs, foldedMessage{role: RoleUser, blocks: []sourcedBlock{b}})
}

// resolve opens the user message that answers the pending call: the result
// block first, then anything held back, in log order.
func (f *folder) resolve(result sourcedBlock) {
	f.appendUser(result)
	for _, b := range f.held {
		f.appendUser(b)
	}
	f.held = nil
	f.pending = nil
}

// messages renders the folded log and marks the end of the historical
// prefix: the longest run of leading blocks whose events are <= boundary.
func (f *folder) messages(boundary int64) ([]ChatMessage, int) {
	out := make([]ChatMessage, len(f.msgs))
	historical := 0
	inPrefix := true
	lastMsg, lastBlock := -1, -1
	for i, m := range f.msgs {
		blocks := make([]ContentBlock, len(m.blocks))
		for j, sb := range m.blocks {
			blocks[j] = sb.block
			if inPrefix && sb.src.IsHistorical(boundary) {
				historical++
				lastMsg, lastBlock = i, j
			} else {
				inPrefix = false
			}
		}
		out[i] = ChatMessage{Role: m.role, Content: blocks}
	}
	if lastMsg >= 0 {
		out[lastMsg].Content[lastBlock].CacheBreakpoint = true
	}
	return out, historical
}

// FormatKnowledge renders an injected data source as a prompt block.
func FormatKnowledge(d session.KnowledgeData) string {
	return fmt.Sprintf("<knowledge source=%q>\n%s\n</knowledge>", d.Source, d.FormattedText)
}

// FormatArtifact renders an artifact reference as a prompt block.
func FormatArtifact(d session.ArtifactData) string {
	return fmt.Sprintf("<artifact id=%q type=%q>\n%s\n</artifact>", d.ArtifactID, d.Type, d.Summary)
}

func toolResultText(d session.ToolResultData) string {
	switch {
	case d.Summary != "":
		return d.Summary
	case !d.Success && d.Error != "":
		return "Error: " + d.Error
	case !d.Success:
		return "Error: tool failed"
	}
	return "(no output)"
}

// ValidateMessages checks the shape providers require: the first message is
// from the user, roles alternate, every tool_use is answered in the next
// message, and at most one message block carries a cache marker.
func ValidateMessages(msgs []ChatMessage) error {
	if len(msgs) > 0 && msgs[0].Role != RoleUser {
		return fmt.Errorf("first message has role %s", msgs[0].Role)
	}

	markers := 0
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if i > 0 && msgs[i-1].Role == m.Role {
			return fmt.Errorf("messages %d and %d are both %s", i-1, i, m.Role)
		}

		for _, b := range m.Content {
			if b.CacheBreakpoint {
				markers++
			}
			switch b.Type {
			case BlockToolUse:
				if i+1 >= len(msgs) || !hasToolResult(msgs[i+1], b.ToolUseID) {
					return fmt.Errorf("message %d: tool_use %s not answered in the next message", i, b.ToolUseID)
				}
			case BlockToolResult:
				if i == 0 || !hasToolUse(msgs[i-1], b.ToolUseID) {
					return fmt.Errorf("message %d: tool_result %s does not answer the previous message", i, b.ToolUseID)
				}
			}
		}
	}
	if markers > 1 {
		return fmt.Errorf("%d cache markers in messages, want at most 1", markers)
	}
	return nil
}

func hasToolResult(m ChatMessage, id string) bool {
	for _, b := range m.Content {
		if b.Type == BlockToolResult && b.ToolUseID == id {
			return true
		}
	}
	return false
}

func hasToolUse(m ChatMessage, id string) bool {
	for _, b := range m.Content {
		if b.Type == BlockToolUse && b.ToolUseID == id {
			return true
		}
	}
	return false
}
