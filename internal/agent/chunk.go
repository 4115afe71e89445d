package agent

// ChunkKind discriminates the variants of AgentChunk, mirroring the
// flat-struct-with-discriminant idiom pkg/provider/llm.Chunk uses for
// FinishReason rather than a Go sum-type encoding.
type ChunkKind int

const (
	// ChunkSentence carries one complete, trimmed sentence of assistant
	// speech ready for TTS. Text is set; ToolName is empty.
	ChunkSentence ChunkKind = iota

	// ChunkToolExecuting announces that a tool call has been dispatched.
	// ToolName is set; Text is empty. Emitted once per call, in call order,
	// before the batch is executed — not when it finishes.
	ChunkToolExecuting

	// ChunkComplete marks the end of the turn. No further chunks follow it
	// on the same channel.
	ChunkComplete
)

// AgentChunk is one item of the async sequence [Agent.ProcessStream] emits
// for a single turn.
type AgentChunk struct {
	Kind     ChunkKind
	Text     string // set when Kind == ChunkSentence
	ToolName string // set when Kind == ChunkToolExecuting
}
