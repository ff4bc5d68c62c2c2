package notify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/pushmirror/internal/push"
)

type fakePresenter struct {
	mu        sync.Mutex
	next      int
	presented []Notification
	closed    []Handle
	callbacks map[Handle]func(Action)
	failNext  bool
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{callbacks: map[Handle]func(Action){}}
}

func (p *fakePresenter) Present(n Notification, onAction func(Action)) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return "", errors.New("surface unavailable")
	}
	p.next++
	h := Handle(fmt.Sprintf("h%d", p.next))
	p.presented = append(p.presented, n)
	p.callbacks[h] = onAction
	return h, nil
}

func (p *fakePresenter) Close(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, h)
	return nil
}

func (p *fakePresenter) fire(h Handle, kind ActionKind) {
	p.mu.Lock()
	cb := p.callbacks[h]
	p.mu.Unlock()
	cb(Action{Kind: kind, Handle: h})
}

func mirror(id string) push.Record {
	return push.Record{
		Type:            "mirror",
		NotificationID:  id,
		PackageName:     "com.example.chat",
		SourceUserIden:  "ujx",
		ApplicationName: "Chat",
		Title:           "Ana",
		Body:            "lunch?",
	}
}

func TestShowIsIdempotentPerIdentityKey(t *testing.T) {
	presenter := newFakePresenter()
	registry := NewRegistry(presenter, nil, nil)

	assert.True(t, registry.Show(mirror("1")))
	assert.False(t, registry.Show(mirror("1")))

	assert.Equal(t, 1, registry.Len())
	assert.Len(t, presenter.presented, 1)
}

func TestShowSameIdenFromDifferentPaths(t *testing.T) {
	presenter := newFakePresenter()
	registry := NewRegistry(presenter, nil, nil)

	streamed := push.Record{Type: "mirror", Iden: "ujpah", Title: "stream"}
	fetched := push.Record{Type: "note", Iden: "ujpah", Title: "history", Modified: 12}
	registry.Show(streamed)
	registry.Show(fetched)

	assert.Equal(t, 1, registry.Len())
	assert.Len(t, presenter.presented, 1)
}

func TestDismissUnknownIsNoop(t *testing.T) {
	presenter := newFakePresenter()
	registry := NewRegistry(presenter, nil, nil)
	registry.Show(mirror("1"))

	assert.False(t, registry.Dismiss(mirror("2")))
	assert.Equal(t, 1, registry.Len())
	assert.Empty(t, presenter.closed)
}

func TestDismissClosesHandleAndRemovesEntry(t *testing.T) {
	presenter := newFakePresenter()
	registry := NewRegistry(presenter, nil, nil)
	registry.Show(mirror("1"))

	dismissal := mirror("1")
	dismissal.Type = "dismissal"
	assert.True(t, registry.Dismiss(dismissal))
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, []Handle{"h1"}, presenter.closed)

	_, ok := registry.Lookup("h1")
	assert.False(t, ok)
	assert.True(t, registry.Show(mirror("1")), "a dismissed notification can be shown again")
}

func TestShowPresenterFailureStoresNothing(t *testing.T) {
	presenter := newFakePresenter()
	presenter.failNext = true
	registry := NewRegistry(presenter, nil, nil)

	assert.False(t, registry.Show(mirror("1")))
	assert.Equal(t, 0, registry.Len())
	assert.True(t, registry.Show(mirror("1")))
}

func TestActionsCarryHandle(t *testing.T) {
	presenter := newFakePresenter()
	var got []Action
	registry := NewRegistry(presenter, func(a Action) { got = append(got, a) }, nil)
	registry.Show(mirror("1"))

	presenter.fire("h1", ActionClick)
	presenter.fire("h1", ActionClose)

	require.Len(t, got, 2)
	assert.Equal(t, Action{Kind: ActionClick, Handle: "h1"}, got[0])
	assert.Equal(t, Action{Kind: ActionClose, Handle: "h1"}, got[1])
}

func TestReleaseForgetsUserClosedHandle(t *testing.T) {
	presenter := newFakePresenter()
	registry := NewRegistry(presenter, nil, nil)
	registry.Show(mirror("1"))

	rec, ok := registry.Lookup("h1")
	require.True(t, ok)
	assert.Equal(t, "1", rec.NotificationID)

	rec, ok = registry.Release("h1")
	require.True(t, ok)
	assert.Equal(t, "1", rec.NotificationID)
	assert.Equal(t, 0, registry.Len())

	_, ok = registry.Release("h1")
	assert.False(t, ok)
	assert.False(t, registry.Dismiss(mirror("1")))
	assert.Empty(t, presenter.closed)
}

func TestRender(t *testing.T) {
	icon := []byte{0xff, 0xd8, 0xff}
	n := Render(push.Record{
		ApplicationName: "Chat",
		Title:           "Ana",
		Body:            "lunch?",
		Icon:            base64.StdEncoding.EncodeToString(icon),
	})
	assert.Equal(t, "Chat: Ana", n.Title)
	assert.Equal(t, "lunch?", n.Body)
	assert.Equal(t, icon, n.Icon)

	n = Render(push.Record{Body: "ping", Icon: "not base64!"})
	assert.Equal(t, "Pushbullet", n.Title)
	assert.Nil(t, n.Icon)
}

func TestLogPresenterTriggersActions(t *testing.T) {
	presenter := NewLogPresenter(nil)
	var got []Action
	h, err := presenter.Present(Notification{Title: "t"}, func(a Action) { got = append(got, a) })
	require.NoError(t, err)
	assert.NotEmpty(t, h)
	assert.Equal(t, []Handle{h}, presenter.Open())

	assert.True(t, presenter.Trigger(h, ActionClick))
	assert.True(t, presenter.Trigger(h, ActionClose))
	assert.False(t, presenter.Trigger(h, ActionClose))
	assert.Empty(t, presenter.Open())
	assert.Equal(t, []Action{{Kind: ActionClick, Handle: h}, {Kind: ActionClose, Handle: h}}, got)
	require.NoError(t, presenter.Close(h))
}
