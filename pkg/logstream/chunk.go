package logstream

import (
	"encoding/json"

	"github.com/modoterra/opsconsole/pkg/core"
)

// ChunkKind tells which variant a Chunk holds.
type ChunkKind int

const (
	// ChunkRaw carries the frame text verbatim.
	ChunkRaw ChunkKind = iota
	// ChunkStructured carries a decoded core.LogEntry.
	ChunkStructured
)

func (k ChunkKind) String() string {
	if k == ChunkStructured {
		return "structured"
	}
	return "raw"
}

// Chunk is one inbound frame of a log stream.
type Chunk struct {
	Kind  ChunkKind
	Raw   string
	Entry core.LogEntry // zero unless Kind == ChunkStructured
}

// Text returns the text the frame contributes to the session buffer.
func (c Chunk) Text() string {
	if c.Kind == ChunkStructured {
		return c.Entry.Content
	}
	return c.Raw
}

// ParseChunk classifies a frame. A frame is structured only when it is a
// JSON object with a string "content" field; everything else is raw.
func ParseChunk(data []byte) Chunk {
	raw := string(data)

	var probe struct {
		Level     string  `json:"level"`
		Content   *string `json:"content"`
		Timestamp string  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Content == nil {
		return Chunk{Kind: ChunkRaw, Raw: raw}
	}
	return Chunk{
		Kind: ChunkStructured,
		Raw:  raw,
		Entry: core.LogEntry{
			Level:     probe.Level,
			Content:   *probe.Content,
			Timestamp: probe.Timestamp,
		},
	}
}
