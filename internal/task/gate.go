package task

type gateKind string

const (
	gateAuth     gateKind = "auth"
	gateApproval gateKind = "approval"
)

// gate is a single-resolution synchronization point bridging an
// inbound client event into the blocked execution. The machine clears
// the gate on first resolution, so duplicate or late client messages
// never reach the waiting goroutine.
type gate struct {
	kind   gateKind
	result chan bool
}

func newGate(kind gateKind) *gate {
	return &gate{kind: kind, result: make(chan bool, 1)}
}
