package patcher

// InstructionKind names what a client did with one chunk of the new file.
type InstructionKind uint8

const (
	// InstrSame means the chunk's strong hash matched the base's sidecar
	// entry at the same offset; the server should copy it from the base
	// unchanged.
	InstrSame InstructionKind = iota
	// InstrSameAt means the chunk matched a DIFFERENT chunk in the base
	// (found via the weak rolling-hash search), identified by
	// BaseChunkIndex.
	InstrSameAt
	// InstrLiteral means no match was found; Data carries the chunk's
	// raw bytes.
	InstrLiteral
)

// Instruction is one chunk's worth of the patch stream the client sends
// to the server (or vice versa, for a restore-side patch).
type Instruction struct {
	Kind InstructionKind

	// ChunkIndex is this instruction's position in the new file.
	ChunkIndex int

	// BaseChunkIndex is valid for InstrSameAt: which base chunk to copy
	// from.
	BaseChunkIndex int

	// Data is valid for InstrLiteral.
	Data []byte
}
