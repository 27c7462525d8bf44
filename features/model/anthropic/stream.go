package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"retrai.dev/retrai/runtime/agent/model"
)

// anthropicStreamer adapts an *sdk.MessageStream into a model.Streamer,
// draining server-sent events on a background goroutine and delivering
// translated model.Chunks over a buffered channel.
type anthropicStreamer struct {
	cancel context.CancelFunc
	stream *sdk.MessageStream
	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newAnthropicStreamer(ctx context.Context, stream *sdk.MessageStream, nameMap map[string]string) model.Streamer {
	ctx, cancel := context.WithCancel(ctx)
	s := &anthropicStreamer{
		cancel:   cancel,
		stream:   stream,
		chunks:   make(chan model.Chunk, 16),
		metadata: make(map[string]any),
	}
	go s.run(ctx, nameMap)
	return s
}

func (s *anthropicStreamer) run(ctx context.Context, nameMap map[string]string) {
	defer close(s.chunks)

	proc := &anthropicChunkProcessor{
		toolBlocks:     make(map[int64]*toolBuffer),
		thinkingBlocks: make(map[int64]*thinkingBuffer),
		toolNameMap:    nameMap,
		emit: func(c model.Chunk) error {
			select {
			case s.chunks <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	for s.stream.Next() {
		event := s.stream.Current()
		if err := proc.Handle(event); err != nil {
			s.setErr(err)
			return
		}
	}
	if err := s.stream.Err(); err != nil && err != io.EOF {
		s.setErr(err)
	}
}

func (s *anthropicStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if !s.errSet {
		s.errSet = true
		s.finalErr = err
	}
}

// Recv returns the next chunk from the stream, or io.EOF once the stream has
// drained cleanly.
func (s *anthropicStreamer) Recv() (model.Chunk, error) {
	c, ok := <-s.chunks
	if ok {
		return c, nil
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.finalErr != nil {
		return model.Chunk{}, s.finalErr
	}
	return model.Chunk{}, io.EOF
}

// Close cancels the background drain goroutine and releases the underlying
// SSE connection.
func (s *anthropicStreamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

// Metadata returns provider-specific metadata collected during the stream.
func (s *anthropicStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// anthropicChunkProcessor translates a sequence of Anthropic SSE events into
// model.Chunks, tracking per-block accumulation state across deltas.
type anthropicChunkProcessor struct {
	emit           func(model.Chunk) error
	toolBlocks     map[int64]*toolBuffer
	thinkingBlocks map[int64]*thinkingBuffer
	toolNameMap    map[string]string
	stopReason     string
}

type toolBuffer struct {
	name      string
	id        string
	fragments []string
}

func (b *toolBuffer) finalInput() string {
	joined := strings.Join(b.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

type thinkingBuffer struct {
	text      strings.Builder
	signature string
	redacted  []byte
}

func (b *thinkingBuffer) finalize(index int) *model.ThinkingPart {
	return &model.ThinkingPart{
		Text:      b.text.String(),
		Signature: b.signature,
		Redacted:  b.redacted,
		Index:     index,
		Final:     true,
	}
}

func decodeToolPayload(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

// Handle dispatches a single SSE event to the appropriate handler based on its
// dynamic type, accumulating per-block state and emitting model.Chunks as
// blocks complete.
func (p *anthropicChunkProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch e := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.toolBlocks = make(map[int64]*toolBuffer)
		p.thinkingBlocks = make(map[int64]*thinkingBuffer)
		return nil
	case sdk.ContentBlockStartEvent:
		if tu, ok := e.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			p.toolBlocks[e.Index] = &toolBuffer{name: tu.Name, id: tu.ID}
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case sdk.TextDelta:
			return p.emit(model.Chunk{
				Type:    model.ChunkTypeText,
				Message: &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: d.Text}}},
			})
		case sdk.InputJSONDelta:
			buf, ok := p.toolBlocks[e.Index]
			if !ok {
				return nil
			}
			buf.fragments = append(buf.fragments, d.PartialJSON)
			return p.emit(model.Chunk{
				Type:          model.ChunkTypeToolCallDelta,
				ToolCallDelta: &model.ToolCallDelta{Name: toolIdent(p.resolveName(buf.name)), ID: buf.id, Delta: d.PartialJSON},
			})
		case sdk.ThinkingDelta:
			buf, ok := p.thinkingBlocks[e.Index]
			if !ok {
				buf = &thinkingBuffer{}
				p.thinkingBlocks[e.Index] = buf
			}
			buf.text.WriteString(d.Thinking)
			return nil
		case sdk.SignatureDelta:
			buf, ok := p.thinkingBlocks[e.Index]
			if !ok {
				buf = &thinkingBuffer{}
				p.thinkingBlocks[e.Index] = buf
			}
			buf.signature = d.Signature
			return nil
		}
		return nil
	case sdk.ContentBlockStopEvent:
		if buf, ok := p.thinkingBlocks[e.Index]; ok {
			part := buf.finalize(int(e.Index))
			delete(p.thinkingBlocks, e.Index)
			return p.emit(model.Chunk{Type: model.ChunkTypeThinking, Thinking: part.Text})
		}
		if buf, ok := p.toolBlocks[e.Index]; ok {
			delete(p.toolBlocks, e.Index)
			return p.emit(model.Chunk{
				Type: model.ChunkTypeToolCall,
				ToolCall: &model.ToolCall{
					Name:    toolIdent(p.resolveName(buf.name)),
					ID:      buf.id,
					Payload: decodeToolPayload(buf.finalInput()),
				},
			})
		}
		return nil
	case sdk.MessageDeltaEvent:
		p.stopReason = string(e.Delta.StopReason)
		return p.emit(model.Chunk{
			Type:       model.ChunkTypeUsage,
			UsageDelta: &model.TokenUsage{OutputTokens: int(e.Usage.OutputTokens)},
		})
	case sdk.MessageStopEvent:
		return p.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: p.stopReason})
	}
	return nil
}

func (p *anthropicChunkProcessor) resolveName(sanitized string) string {
	if canonical, ok := p.toolNameMap[sanitized]; ok {
		return canonical
	}
	return sanitized
}
