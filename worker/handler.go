package worker

import (
	"context"

	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/session"
)

// HandlerFunc implements one registered method. It replies through s
// (Respond/RespondComplete/etc.); if it returns without calling
// s.SendComplete, the worker loop sends STATUS=Complete on its behalf.
type HandlerFunc func(ctx context.Context, s *session.Server, params []osrfmsg.Value) error

// Registration is one entry in a worker's handler table.
type Registration struct {
	Handler HandlerFunc
	Arity   Arity
	// Summary is a short description surfaced by
	// opensrf.system.method.all.summary.
	Summary string
}
