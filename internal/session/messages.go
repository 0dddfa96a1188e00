package session

import (
	"github.com/DoyleJ11/arena-sync/internal/store"
	"github.com/DoyleJ11/arena-sync/pkg/types"
)

type Msg interface{ isSessionMsg() }

type beginInit struct {
	Reply chan error
}

func (beginInit) isSessionMsg() {}

type initFailed struct {
	Err  error
	Done chan struct{}
}

func (initFailed) isSessionMsg() {}

type initDone struct {
	Rows  []types.Player
	Self  types.Player
	Sub   store.Subscription
	Reply chan uint64 // epoch of the new session
}

func (initDone) isSessionMsg() {}

type remoteChange struct {
	Event types.ChangeEvent
	Epoch uint64 // 0 means whatever session is current
}

func (remoteChange) isSessionMsg() {}

type feedClosed struct {
	Epoch uint64
}

func (feedClosed) isSessionMsg() {}

type localMove struct {
	Pos   types.Position
	Reply chan moveReply
}

func (localMove) isSessionMsg() {}

type moveReply struct {
	Job  persistJob
	Noop bool
	Err  error
}

type persistDone struct {
	Job persistJob
}

func (persistDone) isSessionMsg() {}

type persistFailed struct {
	Job persistJob
	Err error
}

func (persistFailed) isSessionMsg() {}

type beginDisconnect struct {
	Reply chan teardown
}

func (beginDisconnect) isSessionMsg() {}

type teardown struct {
	Self types.Player
	Sub  store.Subscription
	Err  error
}

type disconnected struct {
	Err  error
	Done chan struct{}
}

func (disconnected) isSessionMsg() {}

// acked messages are acknowledged once their effect is visible in View.
type acked interface{ ack() }

func (m initFailed) ack()   { close(m.Done) }
func (m disconnected) ack() { close(m.Done) }

// persistJob is one optimistic move waiting to reach the backend.
type persistJob struct {
	Epoch uint64
	ID    string
	Sent  types.Position
}
