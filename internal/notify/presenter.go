package notify

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/agentworkforce/pushmirror/internal/push"
)

const defaultApplicationName = "Pushbullet"

// Handle identifies a notification shown by a Presenter.
type Handle string

type ActionKind int

const (
	ActionClick ActionKind = iota
	ActionClose
)

func (k ActionKind) String() string {
	if k == ActionClose {
		return "close"
	}
	return "click"
}

// Action is a user interaction with a presented notification.
type Action struct {
	Kind   ActionKind
	Handle Handle
}

type Notification struct {
	Title string
	Body  string
	Icon  []byte
}

// Presenter is the local notification surface. Present must return quickly;
// onAction may be invoked from any goroutine, including after Close, and
// carries the handle Present returned.
type Presenter interface {
	Present(n Notification, onAction func(Action)) (Handle, error)
	Close(h Handle) error
}

// Render builds the local notification for a mirrored push.
func Render(r push.Record) Notification {
	app := strings.TrimSpace(r.ApplicationName)
	if app == "" {
		app = defaultApplicationName
	}
	title := app
	if r.Title != "" {
		title = app + ": " + r.Title
	}
	return Notification{
		Title: title,
		Body:  r.Body,
		Icon:  decodeIcon(r.Icon),
	}
}

func decodeIcon(encoded string) []byte {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil
	}
	icon, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	return icon
}

// LogPresenter writes notifications to a logger instead of a desktop surface.
// It is the headless default of the run command.
type LogPresenter struct {
	logger *slog.Logger

	mu      sync.Mutex
	actions map[Handle]func(Action)
}

func NewLogPresenter(logger *slog.Logger) *LogPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPresenter{
		logger:  logger,
		actions: map[Handle]func(Action){},
	}
}

func (p *LogPresenter) Present(n Notification, onAction func(Action)) (Handle, error) {
	h := Handle(ulid.Make().String())
	p.mu.Lock()
	p.actions[h] = onAction
	p.mu.Unlock()
	p.logger.Info("notification", "handle", string(h), "title", n.Title, "body", n.Body, "icon_bytes", len(n.Icon))
	return h, nil
}

func (p *LogPresenter) Close(h Handle) error {
	p.mu.Lock()
	_, ok := p.actions[h]
	delete(p.actions, h)
	p.mu.Unlock()
	if ok {
		p.logger.Info("notification_closed", "handle", string(h))
	}
	return nil
}

// Trigger simulates a user interaction on an open notification.
func (p *LogPresenter) Trigger(h Handle, kind ActionKind) bool {
	p.mu.Lock()
	onAction, ok := p.actions[h]
	if ok && kind == ActionClose {
		delete(p.actions, h)
	}
	p.mu.Unlock()
	if !ok || onAction == nil {
		return false
	}
	onAction(Action{Kind: kind, Handle: h})
	return true
}

func (p *LogPresenter) Open() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.actions))
	for h := range p.actions {
		out = append(out, h)
	}
	return out
}
