// Package session implements the client side of an interactive arena run:
// one live scenario between a human participant and an autonomously
// executing agent, carried over a persistent ordered channel. The Session
// owns the channel lifecycle, the state machine, the append-only
// transcript, and the derived world-state snapshot; inbound messages are
// interpreted by pkg/protocol and applied strictly in delivery order.
//
// A Session is safe for concurrent use. All externally visible state is
// returned as immutable copies via Snapshot; consumers subscribe for
// change notifications and pull a fresh snapshot on each tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/arenalab/arenactl/pkg/protocol"
)

// Usage errors. Both are local and non-fatal: they never change session
// state and the caller may retry once the precondition holds.
var (
	// ErrNotConnected is returned by outbound commands when no channel is
	// open. Commands never queue.
	ErrNotConnected = errors.New("session: not connected")
	// ErrNotAwaitingInput is returned by Send outside awaiting_input. The
	// UI is expected to prevent this; the engine enforces it regardless.
	ErrNotAwaitingInput = errors.New("session: not awaiting input")
)

// InjectionRecord is the acknowledgement of the most recent chaos event.
// The engine never clears it on its own; callers call ClearInjection once
// they have shown it.
type InjectionRecord struct {
	Event    string
	Result   []byte
	Received time.Time
}

// Snapshot is an immutable view of a session. Transcript and WorldState
// are copies; mutating them does not affect the session.
type Snapshot struct {
	State          State
	SessionID      string
	Connected      bool
	Transcript     []Entry
	AwaitingPrompt string
	Evaluation     *protocol.Evaluation
	LastError      string
	WorldState     map[string]any
	LastInjection  *InjectionRecord
}

// Session drives one scenario run. Create with New, open the channel with
// Connect, then issue Start/Send/Inject as the run progresses. Sessions
// share nothing; any number may run in parallel.
type Session struct {
	url     string
	dialer  Dialer
	decoder protocol.Decoder

	mu            sync.Mutex
	state         State
	sessionID     string
	transcript    []Entry
	nextEntryID   int
	prompt        string
	evaluation    *protocol.Evaluation
	lastError     string
	worldState    map[string]any
	lastInjection *InjectionRecord
	ch            Channel
	// gen counts channel generations. Every connect, disconnect, and
	// fault bumps it; callbacks carrying a stale generation are dropped,
	// which keeps superseded read loops and post-teardown close
	// notifications from mutating state.
	gen uint64

	subsMu sync.Mutex
	subs   []chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the WebSocket dialer, usually with a test transport.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithDetector replaces the world-state detector used on tool results.
func WithDetector(det protocol.StatusDetector) Option {
	return func(s *Session) { s.decoder.Detector = det }
}

// New creates a disconnected session for the given endpoint. Endpoint
// resolution (host, port, path) is the caller's concern.
func New(url string, opts ...Option) *Session {
	s := &Session{
		url:         url,
		dialer:      DialWebSocket,
		decoder:     protocol.Decoder{Detector: protocol.DefaultDetector()},
		state:       StateDisconnected,
		nextEntryID: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the channel, superseding and closing any channel that is
// already open, so at most one channel is ever live. On dial failure the
// session moves to StateError; the engine never retries on its own, the
// caller owns reconnection policy.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	old := s.ch
	s.ch = nil
	s.gen++
	gen := s.gen
	s.setState(StateConnecting)
	s.notify()
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	ch, err := s.dialer(ctx, s.url)
	if err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.lastError = err.Error()
			s.setState(StateError)
			s.notify()
		}
		s.mu.Unlock()
		return fmt.Errorf("session: connect %s: %w", s.url, err)
	}

	s.mu.Lock()
	if gen != s.gen {
		// A newer Connect or Disconnect won while we were dialing; the
		// newer call owns the session's fate.
		s.mu.Unlock()
		ch.Close()
		return nil
	}
	s.ch = ch
	s.setState(StateConnected)
	s.notify()
	s.mu.Unlock()

	go s.readLoop(ch, gen)
	return nil
}

// Start asks the counterparty to begin a run. Requires an open channel.
// Local run state (transcript, entry counter, evaluation, prompt, world
// state, last error) is reset before the command goes out; the state
// machine itself advances only when the counterparty answers with
// "started". Restarting from completed or error is allowed here; the
// counterparty may still reject it.
func (s *Session) Start(moduleID, agentID string, variables map[string]any) error {
	data, err := protocol.EncodeStart(moduleID, agentID, variables)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ErrNotConnected
	}
	s.resetRun()
	if err := s.writeLocked(data); err != nil {
		return err
	}
	slog.Debug("Sent start command", "module", moduleID, "agent", agentID)
	s.notify()
	return nil
}

// Send replies to the counterparty's input request. Valid only while the
// session is awaiting input; anywhere else it returns ErrNotAwaitingInput
// and has no effect at all, no outbound write included. On success the
// session optimistically returns to running before any acknowledgement.
func (s *Session) Send(text string) error {
	data, err := protocol.EncodeMessage(text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ErrNotConnected
	}
	if s.state != StateAwaitingInput {
		return ErrNotAwaitingInput
	}
	if err := s.writeLocked(data); err != nil {
		return err
	}
	s.prompt = ""
	s.setState(StateRunning)
	s.notify()
	return nil
}

// Inject asks the counterparty to apply a chaos event mid-run. Valid
// whenever a channel is open; the protocol does not restrict when, so any
// "only while running" policy belongs to the caller. Inject itself never
// changes session state; the acknowledgement arrives asynchronously as an
// event_injected message.
func (s *Session) Inject(eventID, toolName string, args map[string]any) error {
	data, err := protocol.EncodeInject(eventID, toolName, args)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ErrNotConnected
	}
	if err := s.writeLocked(data); err != nil {
		return err
	}
	slog.Debug("Sent inject command", "event", eventID, "tool", toolName)
	return nil
}

// Disconnect closes the channel intentionally and forces the session to
// disconnected. The channel's own close notification, which arrives
// asynchronously afterward, is suppressed. Safe to call from any state,
// any number of times.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	ch := s.ch
	s.ch = nil
	s.gen++
	if s.state != StateDisconnected {
		s.setState(StateDisconnected)
		s.notify()
	}
	s.mu.Unlock()

	if ch != nil {
		return ch.Close()
	}
	return nil
}

// Snapshot returns an immutable copy of the session's visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:          s.state,
		SessionID:      s.sessionID,
		Connected:      s.ch != nil,
		Transcript:     append([]Entry(nil), s.transcript...),
		AwaitingPrompt: s.prompt,
		Evaluation:     s.evaluation,
		LastError:      s.lastError,
		WorldState:     maps.Clone(s.worldState),
	}
	if s.lastInjection != nil {
		inj := *s.lastInjection
		snap.LastInjection = &inj
	}
	return snap
}

// Subscribe returns a channel that receives a tick after session state
// changes. Notifications coalesce: a slow consumer misses ticks, never
// blocks the engine. Consumers react by pulling Snapshot.
func (s *Session) Subscribe() <-chan struct{} {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	ch := make(chan struct{}, 1)
	s.subs = append(s.subs, ch)
	return ch
}

// ClearInjection drops the last chaos-event acknowledgement.
func (s *Session) ClearInjection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastInjection == nil {
		return
	}
	s.lastInjection = nil
	s.notify()
}

// resetRun clears everything derived from the previous run. Caller holds
// s.mu.
func (s *Session) resetRun() {
	s.transcript = nil
	s.nextEntryID = 1
	s.prompt = ""
	s.evaluation = nil
	s.lastError = ""
	s.worldState = nil
	s.sessionID = ""
}

// writeLocked sends one outbound command. A write failure is a transport
// fault: the channel is torn down and the session moves to StateError.
// Caller holds s.mu.
func (s *Session) writeLocked(data []byte) error {
	if err := s.ch.WriteMessage(data); err != nil {
		s.gen++
		s.ch.Close()
		s.ch = nil
		s.lastError = err.Error()
		s.setState(StateError)
		s.notify()
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// readLoop applies inbound messages in delivery order, one at a time to
// completion. It exits when the channel errors or is superseded.
func (s *Session) readLoop(ch Channel, gen uint64) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			s.channelDown(gen, err)
			return
		}
		s.apply(gen, data)
	}
}

// channelDown handles the end of a read loop. Stale generations are
// dropped: either a newer channel took over or the caller disconnected on
// purpose, and in both cases this closure must not touch state.
func (s *Session) channelDown(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.gen++
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	if expectedClose(err) {
		slog.Debug("Channel closed", "url", s.url, "reason", err)
		s.setState(StateDisconnected)
		s.notify()
		return
	}
	slog.Warn("Channel failed", "url", s.url, "error", err)
	s.lastError = err.Error()
	s.setState(StateError)
	s.notify()
}

// apply decodes and applies one inbound message. Malformed messages are
// logged and dropped; they must never corrupt state.
func (s *Session) apply(gen uint64, data []byte) {
	ev, err := s.decoder.Decode(data)
	if err != nil {
		slog.Warn("Dropping undecodable message", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	switch ev.Kind {
	case protocol.KindStarted:
		s.sessionID = ev.SessionID
		s.append(RoleSystem, "Session started", nil)
		s.setState(StateRunning)

	case protocol.KindUserMessage:
		s.append(RoleUser, ev.Content, ev.Payload)

	case protocol.KindAgentMessage:
		s.append(RoleAgent, ev.Content, ev.Payload)

	case protocol.KindToolCall:
		s.append(RoleTool, renderToolCall(ev.Tool), ev.Payload)

	case protocol.KindToolResult:
		s.append(RoleTool, renderToolResult(ev.Tool), ev.Payload)
		if ev.WorldState != nil {
			// Full replacement; partial fields are never merged into the
			// previous snapshot.
			s.worldState = ev.WorldState
		}

	case protocol.KindAwaitingInput:
		s.prompt = ev.Prompt
		s.setState(StateAwaitingInput)

	case protocol.KindCompleted:
		if s.state == StateCompleted {
			// The evaluation is immutable once set; a duplicate completed
			// message cannot replace it.
			return
		}
		s.evaluation = ev.Evaluation
		s.append(RoleSystem, "Session completed", nil)
		s.setState(StateCompleted)

	case protocol.KindError:
		s.lastError = ev.Message
		s.setState(StateError)

	case protocol.KindInjected:
		s.lastInjection = &InjectionRecord{
			Event:    ev.Injection.Event,
			Result:   append([]byte(nil), ev.Injection.Result...),
			Received: time.Now(),
		}

	default:
		// KindProgress and KindIgnored: recognized, no effect.
		return
	}
	s.notify()
}

// append adds a transcript entry. Caller holds s.mu.
func (s *Session) append(role Role, content string, meta []byte) {
	s.transcript = append(s.transcript, Entry{
		ID:        s.nextEntryID,
		Role:      role,
		Content:   content,
		Metadata:  meta,
		Timestamp: time.Now(),
	})
	s.nextEntryID++
}

// setState records a transition. Caller holds s.mu.
func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	slog.Debug("Session state changed", "from", s.state, "to", st)
	s.state = st
}

// notify wakes subscribers without blocking; a full buffer means the
// subscriber already has a wakeup pending.
func (s *Session) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
