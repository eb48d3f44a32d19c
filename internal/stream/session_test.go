package stream

import (
	"strings"
	"testing"
	"time"
)

func drain(s *Session) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestSession_PhaseOrderAndDone(t *testing.T) {
	s := NewSession(16)

	if err := s.Advance(PhaseRAG); err != nil {
		t.Fatalf("advance rag: %v", err)
	}
	if err := s.Advance(PhaseTools); err != nil {
		t.Fatalf("advance tools: %v", err)
	}
	if err := s.Advance(PhaseGenerating); err != nil {
		t.Fatalf("advance generating: %v", err)
	}
	s.Chunk("hello ")
	s.Chunk("world")
	s.Done(42)

	evs := drain(s)

	wantPhases := []string{"init", "rag", "tools", "generating"}
	var gotPhases []string
	for _, ev := range evs {
		if ev.Type == EventStatus {
			gotPhases = append(gotPhases, ev.Phase)
		}
	}
	if len(gotPhases) != len(wantPhases) {
		t.Fatalf("expected %d status events, got %d", len(wantPhases), len(gotPhases))
	}
	for i := range wantPhases {
		if gotPhases[i] != wantPhases[i] {
			t.Fatalf("phase %d: got %q want %q", i, gotPhases[i], wantPhases[i])
		}
	}

	last := evs[len(evs)-1]
	if last.Type != EventDone || last.MessageID != 42 {
		t.Fatalf("expected terminal done with message id 42, got %+v", last)
	}
}

func TestSession_PhaseRegressionRejected(t *testing.T) {
	s := NewSession(8)
	defer s.Cancel()

	if err := s.Advance(PhaseTools); err != nil {
		t.Fatalf("advance tools: %v", err)
	}
	if err := s.Advance(PhaseRAG); err == nil {
		t.Fatalf("expected regression to be rejected")
	}
	// repeating the current phase is a no-op, not an error
	if err := s.Advance(PhaseTools); err != nil {
		t.Fatalf("same-phase advance: %v", err)
	}
}

func TestSession_ChunkConcatenationMatches(t *testing.T) {
	s := NewSession(32)

	parts := []string{"The ", "quick ", "brown ", "fox"}
	for _, p := range parts {
		s.Chunk(p)
	}
	s.Done(1)

	var b strings.Builder
	for _, ev := range drain(s) {
		if ev.Type == EventChunk {
			b.WriteString(ev.Delta)
		}
	}
	if got := b.String(); got != "The quick brown fox" {
		t.Fatalf("concatenated chunks = %q", got)
	}
}

func TestSession_FailIsTerminal(t *testing.T) {
	s := NewSession(8)

	s.Fail("MODEL_ERROR", "upstream broke")
	s.Chunk("should not appear")
	s.Done(7)

	evs := drain(s)
	last := evs[len(evs)-1]
	if last.Type != EventError || last.Code != "MODEL_ERROR" {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
}

func TestSession_CancelUnblocksProducer(t *testing.T) {
	// Buffer of 1 is already occupied by the init status event, so the
	// next send would block forever without Cancel.
	s := NewSession(1)
	s.Cancel()

	done := make(chan struct{})
	go func() {
		s.Chunk("dropped")
		s.Done(9)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("producer blocked after cancel")
	}
}
