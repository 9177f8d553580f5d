package coordinator

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Edit states. These stay untyped so they convert to statekit.StateID.
const (
	StateIdle       = "idle"
	StateWriting    = "writing"
	StateRefetching = "refetching"
	StateFailed     = "failed"
)

const (
	eventWrite     = "write"
	eventWritten   = "written"
	eventRefetched = "refetched"
	eventReject    = "reject"
	eventFail      = "fail"
)

type editContext struct{}

// editMachine tracks one coordinator through write/refetch cycles. A view is only
// replaced on the refetching -> idle edge.
type editMachine struct {
	interpreter *statekit.Interpreter[editContext]
}

func newEditMachine() (*editMachine, error) {
	builder := statekit.NewMachine[editContext]("edit-machine").
		WithInitial(statekit.StateID(StateIdle)).
		WithContext(editContext{})

	builder.State(StateIdle).
		On(eventWrite).Target(StateWriting).
		Done()

	builder.State(StateWriting).
		On(eventWritten).Target(StateRefetching).
		On(eventReject).Target(StateFailed).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateRefetching).
		On(eventRefetched).Target(StateIdle).
		On(eventFail).Target(StateFailed).
		Done()

	builder.State(StateFailed).
		On(eventWrite).Target(StateWriting).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build edit machine: %w", err)
	}
	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()
	return &editMachine{interpreter: interpreter}, nil
}

func (m *editMachine) send(event string) error {
	before := m.current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	if m.current() == before {
		return fmt.Errorf("event %q not allowed in state %q", event, before)
	}
	return nil
}

func (m *editMachine) current() string {
	return string(m.interpreter.State().Value)
}
