package bridge

import "bytes"

const assembleStage = "assemble"

// Assembler accumulates the binary chunks of one utterance between a start
// and a stop frame. Finish returns the chunks concatenated in arrival order
// with no framing added or removed.
type Assembler struct {
	buf       bytes.Buffer
	streaming bool
}

// Begin opens a new utterance. It fails when the previous utterance was
// never finished.
func (a *Assembler) Begin() error {
	if a.streaming {
		return NewStageError(assembleStage, CodeProtocolViolation, "utterance already in progress")
	}
	a.buf.Reset()
	a.streaming = true
	return nil
}

// Append adds one chunk to the open utterance. The chunk is copied, so the
// caller may reuse its buffer.
func (a *Assembler) Append(chunk []byte) error {
	if !a.streaming {
		return NewStageError(assembleStage, CodeProtocolViolation, "binary frame outside an open utterance")
	}
	_, _ = a.buf.Write(chunk)
	return nil
}

// Finish closes the utterance and returns its payload. A stop without a
// matching start and a stop with zero buffered bytes are both errors; in the
// empty case the utterance is still considered closed.
func (a *Assembler) Finish() ([]byte, error) {
	if !a.streaming {
		return nil, NewStageError(assembleStage, CodeProtocolViolation, "stop without an open utterance")
	}
	a.streaming = false
	if a.buf.Len() == 0 {
		return nil, NewStageError(assembleStage, CodeEmptyUtterance, "no audio received before stop")
	}
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	a.buf.Reset()
	return out, nil
}

// Streaming reports whether an utterance is currently open.
func (a *Assembler) Streaming() bool { return a.streaming }

// Len is the number of buffered bytes.
func (a *Assembler) Len() int { return a.buf.Len() }

// Reset discards any buffered audio and closes the utterance.
func (a *Assembler) Reset() {
	a.buf.Reset()
	a.streaming = false
}
