package worker

import (
	"context"
	"fmt"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/osrfmsg"
)

// RouterTarget names one router a service instance registers its presence
// with: the router's bus username (conventionally "router") and the domain
// it's serving. A service typically registers with one router per domain
// it's configured to run on, per
// original_source/evergreen/src/osrf/microsvc.rs's hosting_domains/
// register_routers.
type RouterTarget struct {
	Username string
	Domain   string
}

// Register announces this Worker's service to each of the given routers,
// so they route REQUESTs for w.service to w's bus address. It does not wait
// for a reply: the router command handler never sends one on success.
func (w *Worker) Register(ctx context.Context, routers ...RouterTarget) error {
	return w.sendRouterCommand(ctx, "register", routers)
}

// Unregister withdraws this Worker's registration from each of the given
// routers unregister command. Callers should
// call this during graceful shutdown so the router stops forwarding new
// requests to an instance that is about to exit.
func (w *Worker) Unregister(ctx context.Context, routers ...RouterTarget) error {
	return w.sendRouterCommand(ctx, "unregister", routers)
}

func (w *Worker) sendRouterCommand(ctx context.Context, command string, routers []RouterTarget) error {
	self := w.busConn.Self()
	for _, rt := range routers {
		routerAddr := addr.Router(rt.Username, rt.Domain)
		tm := &osrfmsg.TransportMessage{
			To:            routerAddr.String(),
			From:          self.String(),
			Thread:        self.Nonce,
			RouterCommand: command,
			RouterClass:   w.service,
		}
		if tm.Thread == "" {
			// Bare-service or router-kind selves have no nonce; the
			// command's thread value is otherwise unused by the router,
			// so any non-empty placeholder is fine.
			tm.Thread = w.service
		}

		if err := w.busConn.SendTo(ctx, routerAddr, tm); err != nil {
			return fmt.Errorf("worker %s: %s with router %s@%s: %w", w.service, command, rt.Username, rt.Domain, err)
		}
		w.log.Info("worker %s: sent %s to router %s@%s", w.service, command, rt.Username, rt.Domain)
	}
	return nil
}
