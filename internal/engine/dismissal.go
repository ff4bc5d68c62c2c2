package engine

import (
	"context"

	"github.com/agentworkforce/pushmirror/internal/notify"
	"github.com/agentworkforce/pushmirror/internal/push"
	"github.com/agentworkforce/pushmirror/internal/pushapi"
)

// handleAction turns a user interaction into a remote dismissal. A close the
// user made ends the local entry right away; a close caused by Dismiss has no
// entry left and is ignored.
func (e *Engine) handleAction(a notify.Action) {
	var (
		rec push.Record
		ok  bool
	)
	switch a.Kind {
	case notify.ActionClose:
		rec, ok = e.registry.Release(a.Handle)
	default:
		rec, ok = e.registry.Lookup(a.Handle)
	}
	if !ok {
		return
	}
	e.notifyRemoteDismissal(rec)
}

// notifyRemoteDismissal posts a dismissal ephemeral and, once accepted,
// dismisses locally too. Failures are logged only; the next catch-up fetch
// reconciles.
func (e *Engine) notifyRemoteDismissal(rec push.Record) {
	token := e.session.accessToken
	if token == "" {
		e.logger.Warn("dismissal not sent: no access token")
		return
	}
	dismissal := pushapi.DismissalFor(rec)
	e.goIO(func(ctx context.Context) {
		err := e.api.SendDismissal(ctx, token, dismissal)
		e.post(func() {
			if err != nil {
				e.recordError("send dismissal failed", err)
				return
			}
			e.registry.Dismiss(rec)
		})
	})
}
