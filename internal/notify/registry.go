// Package notify keeps at most one local notification per remote push and
// bridges user interactions back to the engine.
package notify

import (
	"log/slog"

	"github.com/agentworkforce/pushmirror/internal/push"
)

type entry struct {
	handle Handle
	record push.Record
}

// Registry maps identity keys to presented notifications. It is not safe for
// concurrent use; the engine loop owns it.
type Registry struct {
	presenter Presenter
	onAction  func(Action)
	logger    *slog.Logger
	byKey     map[string]entry
	byHandle  map[Handle]string
}

func NewRegistry(presenter Presenter, onAction func(Action), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		presenter: presenter,
		onAction:  onAction,
		logger:    logger,
		byKey:     map[string]entry{},
		byHandle:  map[Handle]string{},
	}
}

// Show presents the record unless a notification with the same identity key
// is already on screen. It reports whether a new notification was shown.
func (r *Registry) Show(rec push.Record) bool {
	key := push.IdentityKey(rec)
	if _, ok := r.byKey[key]; ok {
		return false
	}
	h, err := r.presenter.Present(Render(rec), r.dispatch)
	if err != nil {
		r.logger.Warn("present notification failed", "error", err)
		return false
	}
	r.byKey[key] = entry{handle: h, record: rec}
	r.byHandle[h] = key
	return true
}

func (r *Registry) dispatch(a Action) {
	if r.onAction != nil {
		r.onAction(a)
	}
}

// Dismiss closes the notification for the record's identity key, if any.
func (r *Registry) Dismiss(rec push.Record) bool {
	key := push.IdentityKey(rec)
	e, ok := r.byKey[key]
	if !ok {
		return false
	}
	delete(r.byKey, key)
	delete(r.byHandle, e.handle)
	if err := r.presenter.Close(e.handle); err != nil {
		r.logger.Warn("close notification failed", "error", err)
	}
	return true
}

// Lookup returns the record shown under handle.
func (r *Registry) Lookup(h Handle) (push.Record, bool) {
	key, ok := r.byHandle[h]
	if !ok {
		return push.Record{}, false
	}
	return r.byKey[key].record, true
}

// Release forgets a handle the user closed. Closes caused by Dismiss find no
// entry and report false.
func (r *Registry) Release(h Handle) (push.Record, bool) {
	key, ok := r.byHandle[h]
	if !ok {
		return push.Record{}, false
	}
	rec := r.byKey[key].record
	delete(r.byHandle, h)
	delete(r.byKey, key)
	return rec, true
}

func (r *Registry) Len() int {
	return len(r.byKey)
}
