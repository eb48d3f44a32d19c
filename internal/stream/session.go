package stream

import (
	"fmt"
	"sync"
)

// Session is the single outbound event channel for one request. The
// pipeline goroutine is the only producer; the HTTP handler is the only
// consumer. Phase order is init -> rag -> tools -> generating -> done and
// never regresses; error and done are terminal.
type Session struct {
	mu       sync.Mutex
	ch       chan Event
	quit     chan struct{}
	quitOnce sync.Once
	phase    Phase
	terminal bool
}

func NewSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = 32
	}
	s := &Session{
		ch:    make(chan Event, buffer),
		quit:  make(chan struct{}),
		phase: PhaseInit,
	}
	s.ch <- Event{Type: EventStatus, Phase: PhaseInit.String()}
	return s
}

// Events is consumed by the encoder side. The channel closes after the
// terminal event.
func (s *Session) Events() <-chan Event {
	return s.ch
}

// Cancel is called by the consumer on client disconnect so a blocked
// producer unblocks instead of leaking. Events sent afterwards are dropped.
func (s *Session) Cancel() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Advance moves the session to a later phase and emits a status event.
// Moving backwards is a programming error and is reported, not applied.
func (s *Session) Advance(p Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return fmt.Errorf("stream is terminal")
	}
	if p < s.phase {
		return fmt.Errorf("phase %s cannot follow %s", p, s.phase)
	}
	if p == s.phase {
		return nil
	}
	s.phase = p
	s.send(Event{Type: EventStatus, Phase: p.String()})
	return nil
}

func (s *Session) Sources(sources []Source) {
	s.emit(Event{Type: EventSources, Sources: sources})
}

func (s *Session) ToolStart(info ToolInfo) {
	info.Status = "running"
	s.emit(Event{Type: EventToolStart, Tool: &info})
}

func (s *Session) ToolEnd(info ToolInfo) {
	if info.Status == "" {
		info.Status = "success"
	}
	s.emit(Event{Type: EventToolEnd, Tool: &info})
}

func (s *Session) Artifact(a Artifact) {
	s.emit(Event{Type: EventArtifact, Artifact: &a})
}

func (s *Session) Chunk(delta string) {
	s.emit(Event{Type: EventChunk, Delta: delta})
}

// Done is terminal and the only event carrying the persisted message id.
func (s *Session) Done(messageID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.phase = PhaseDone
	s.terminal = true
	s.send(Event{Type: EventDone, MessageID: messageID})
	close(s.ch)
}

// Fail is terminal; nothing follows it except stream closure.
func (s *Session) Fail(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.terminal = true
	s.send(Event{Type: EventError, Code: code, Message: message})
	close(s.ch)
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.send(ev)
}

// send must hold s.mu. It gives up once the consumer has cancelled.
func (s *Session) send(ev Event) {
	select {
	case s.ch <- ev:
	case <-s.quit:
	}
}
