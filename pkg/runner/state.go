package runner

// State is a step in the lifecycle of a single transfer request.
type State string

const (
	StateCreated      State = "created"
	StateKeyed        State = "keyed"
	StateAuthorized   State = "authorized"
	StateTransferring State = "transferring"
	StateRevoked      State = "revoked" // terminal, credential cleaned up
	StateAborted      State = "aborted" // terminal, failed before transfer
)

func (s State) Terminal() bool {
	return s == StateRevoked || s == StateAborted
}
