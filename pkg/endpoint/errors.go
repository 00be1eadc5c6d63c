package endpoint

import (
	"fmt"

	"github.com/nanomsg-go/epfsm/pkg/addr"
	"github.com/nanomsg-go/epfsm/pkg/dispatch"
)

// Configuration errors, surfaced synchronously from Create per spec §7.
var (
	ErrInvalid = addr.ErrInvalid
	ErrNoDev   = addr.ErrNoDev
)

// ProtocolError is raised (via panic) when an endpoint observes an event
// tuple its current state does not enumerate a transition for. Spec §7
// classifies this as fatal: "abort with a precise diagnostic", never a
// silent default branch.
type ProtocolError struct {
	State  fmt.Stringer
	Source dispatch.Source
	Type   dispatch.Type
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("epfsm: unexpected (state=%s, source=%s, type=%s)", e.State, e.Source, e.Type)
}
