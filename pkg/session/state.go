package session

// State is the session lifecycle state. States are mutually exclusive and
// only the engine's own transition paths may change them.
type State string

const (
	// StateDisconnected is the initial state and the state reached
	// whenever the channel goes away without a transport fault.
	StateDisconnected State = "disconnected"
	// StateConnecting means a dial is in flight.
	StateConnecting State = "connecting"
	// StateConnected means the channel is open and no run has been
	// accepted yet.
	StateConnected State = "connected"
	// StateRunning means the counterparty is executing the scenario.
	StateRunning State = "running"
	// StateAwaitingInput means the counterparty is blocked on a user
	// reply.
	StateAwaitingInput State = "awaiting_input"
	// StateCompleted means the run finished and the evaluation, if any,
	// is final.
	StateCompleted State = "completed"
	// StateError means a connection fault or a counterparty-reported
	// error ended the run. A fresh Connect supersedes it.
	StateError State = "error"
)
