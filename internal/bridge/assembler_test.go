package bridge

import (
	"bytes"
	"errors"
	"testing"
)

func TestAssemblerConcatenatesChunksInOrder(t *testing.T) {
	var a Assembler
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	chunks := [][]byte{[]byte("abc"), []byte(""), []byte("def"), []byte("g")}
	for _, c := range chunks {
		if err := a.Append(c); err != nil {
			t.Fatalf("Append(%q) error = %v", c, err)
		}
	}

	got, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if !bytes.Equal(got, []byte("abcdefg")) {
		t.Fatalf("Finish() = %q, want abcdefg", got)
	}
}

func TestAssemblerCopiesAppendedChunks(t *testing.T) {
	var a Assembler
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	chunk := []byte("orig")
	if err := a.Append(chunk); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	copy(chunk, "XXXX")

	got, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if string(got) != "orig" {
		t.Fatalf("buffer aliased caller memory: got %q", got)
	}
}

func TestAssemblerRejectsDoubleBegin(t *testing.T) {
	var a Assembler
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	err := a.Begin()
	var se *StageError
	if !errors.As(err, &se) || se.Code != CodeProtocolViolation {
		t.Fatalf("second Begin() = %v, want protocol_violation", err)
	}
	// The in-flight utterance must survive the rejected begin.
	if err := a.Append([]byte("x")); err != nil {
		t.Fatalf("Append() after rejected Begin error = %v", err)
	}
}

func TestAssemblerRejectsAppendOutsideUtterance(t *testing.T) {
	var a Assembler
	err := a.Append([]byte("x"))
	var se *StageError
	if !errors.As(err, &se) || se.Code != CodeProtocolViolation {
		t.Fatalf("Append() = %v, want protocol_violation", err)
	}
}

func TestAssemblerFinishWithoutStart(t *testing.T) {
	var a Assembler
	_, err := a.Finish()
	var se *StageError
	if !errors.As(err, &se) || se.Code != CodeProtocolViolation {
		t.Fatalf("Finish() = %v, want protocol_violation", err)
	}
}

func TestAssemblerEmptyUtterance(t *testing.T) {
	var a Assembler
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	_, err := a.Finish()
	var se *StageError
	if !errors.As(err, &se) || se.Code != CodeEmptyUtterance {
		t.Fatalf("Finish() = %v, want empty_utterance", err)
	}
	if a.Streaming() {
		t.Fatalf("utterance should be closed after empty finish")
	}
	// The assembler must accept the next utterance.
	if err := a.Begin(); err != nil {
		t.Fatalf("Begin() after empty finish error = %v", err)
	}
}

func TestAssemblerReusableAcrossUtterances(t *testing.T) {
	var a Assembler
	for i, payload := range []string{"first", "second"} {
		if err := a.Begin(); err != nil {
			t.Fatalf("utterance %d Begin() error = %v", i, err)
		}
		if err := a.Append([]byte(payload)); err != nil {
			t.Fatalf("utterance %d Append() error = %v", i, err)
		}
		got, err := a.Finish()
		if err != nil {
			t.Fatalf("utterance %d Finish() error = %v", i, err)
		}
		if string(got) != payload {
			t.Fatalf("utterance %d = %q, want %q", i, got, payload)
		}
	}
}
