// Package engine coordinates the stream, the catch-up fetches, decryption and
// the local notification registry for one account.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentworkforce/pushmirror/internal/e2ee"
	"github.com/agentworkforce/pushmirror/internal/notify"
	"github.com/agentworkforce/pushmirror/internal/push"
	"github.com/agentworkforce/pushmirror/internal/pushapi"
	"github.com/agentworkforce/pushmirror/internal/stream"
)

const defaultRequestTimeout = 30 * time.Second

var ErrAlreadyRunning = errors.New("engine already running")

// PushAPI is the subset of the REST API the engine needs.
type PushAPI interface {
	ListPushes(ctx context.Context, token string, modifiedAfter *float64, limit int) (pushapi.PushList, error)
	DeletePushes(ctx context.Context, token string) error
	SendDismissal(ctx context.Context, token string, d pushapi.Dismissal) error
	Me(ctx context.Context, token string) (pushapi.User, error)
}

type Options struct {
	API            PushAPI
	Presenter      notify.Presenter
	Stream         stream.Options
	Logger         *slog.Logger
	OnStatus       func(Status)
	KeyCache       *e2ee.KeyCache
	RequestTimeout time.Duration
}

// Status is the externally visible health of the engine.
type Status struct {
	Connection stream.State
	HasToken   bool
	E2EE       bool
	LastError  string
}

func (s Status) String() string {
	switch {
	case !s.HasToken:
		return "no access token"
	case s.Connection == stream.Open:
		return "connected"
	case s.LastError != "":
		return "not connected: " + s.LastError
	default:
		return "not connected"
	}
}

// Engine runs on a single goroutine (Run). Every state change happens there;
// the exported methods only post work to it.
type Engine struct {
	api            PushAPI
	logger         *slog.Logger
	onStatus       func(Status)
	keys           *e2ee.KeyCache
	requestTimeout time.Duration

	stream     *stream.Manager
	registry   *notify.Registry
	reconciler Reconciler
	session    Session
	lastErr    string

	inbox    chan func()
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
	runCtx   context.Context

	statusMu sync.Mutex
	status   Status
}

func New(opts Options) (*Engine, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if opts.Presenter == nil {
		return nil, fmt.Errorf("presenter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	streamOpts := opts.Stream
	if streamOpts.Logger == nil {
		streamOpts.Logger = logger.With("component", "stream")
	}
	e := &Engine{
		api:            opts.API,
		logger:         logger,
		onStatus:       opts.OnStatus,
		keys:           opts.KeyCache,
		requestTimeout: requestTimeout,
		stream:         stream.NewManager(streamOpts),
		inbox:          make(chan func(), 64),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	e.registry = notify.NewRegistry(opts.Presenter, func(a notify.Action) {
		// Presenters may report actions from inside Present or Close, which
		// run on the loop itself.
		go e.post(func() { e.handleAction(a) })
	}, logger.With("component", "notify"))
	e.status = e.snapshot()
	return e, nil
}

// Run processes events until ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx = ctx
	defer func() {
		cancel()
		e.stream.Close()
		e.publishStatus()
		close(e.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quit:
			return nil
		case fn := <-e.inbox:
			e.safely(fn)
		case ev := <-e.stream.Events():
			e.safely(func() { e.handleStream(ev) })
		}
		e.publishStatus()
	}
}

func (e *Engine) SetAccessToken(token string) {
	e.post(func() { e.setAccessToken(token) })
}

func (e *Engine) ClearAccessToken() {
	e.post(e.clearAccessToken)
}

func (e *Engine) SetE2EESecret(secret string) {
	e.post(func() { e.setE2EESecret(secret) })
}

func (e *Engine) ClearE2EESecret() {
	e.post(e.clearE2EESecret)
}

// ClearHistory deletes the account's push history and resets the mark.
func (e *Engine) ClearHistory() {
	e.post(e.clearHistory)
}

// Shutdown stops Run. It is safe to call more than once.
func (e *Engine) Shutdown() {
	e.quitOnce.Do(func() { close(e.quit) })
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine handler panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// goIO runs a network call off the loop. fn must hand its results back
// through post.
func (e *Engine) goIO(fn func(ctx context.Context)) {
	parent := e.runCtx
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("engine request panic", "panic", fmt.Sprint(r))
			}
		}()
		ctx, cancel := context.WithTimeout(parent, e.requestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) setAccessToken(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		e.clearAccessToken()
		return
	}
	if token == e.session.accessToken {
		return
	}
	e.session.accessToken = token
	e.session.accountIden = ""
	e.session.key = nil
	e.lastErr = ""
	e.reconciler.Reset()
	e.stream.Start(token)
	e.refreshKey()
}

func (e *Engine) clearAccessToken() {
	e.session.accessToken = ""
	e.session.accountIden = ""
	e.session.key = nil
	e.lastErr = ""
	e.reconciler.Reset()
	e.stream.Stop()
}

func (e *Engine) setE2EESecret(secret string) {
	if secret == "" {
		e.clearE2EESecret()
		return
	}
	if secret == e.session.e2eeSecret {
		return
	}
	e.session.e2eeSecret = secret
	e.session.key = nil
	e.refreshKey()
}

func (e *Engine) clearE2EESecret() {
	e.session.e2eeSecret = ""
	e.session.key = nil
	e.keys.Purge()
}

// refreshKey looks up the account iden, which salts the key, and derives the
// key off the loop. The result is dropped if the session changed meanwhile.
func (e *Engine) refreshKey() {
	token, secret := e.session.accessToken, e.session.e2eeSecret
	if token == "" || secret == "" {
		return
	}
	e.goIO(func(ctx context.Context) {
		user, err := e.api.Me(ctx, token)
		if err == nil && strings.TrimSpace(user.Iden) == "" {
			err = errors.New("account iden missing")
		}
		if err != nil {
			e.post(func() { e.recordError("fetch account failed", err) })
			return
		}
		key := e.keys.Derive(secret, user.Iden)
		e.post(func() {
			if e.session.accessToken != token || e.session.e2eeSecret != secret {
				return
			}
			e.session.accountIden = user.Iden
			e.session.key = key
			e.logger.Info("end-to-end encryption enabled")
		})
	})
}

func (e *Engine) clearHistory() {
	token := e.session.accessToken
	if token == "" {
		return
	}
	e.reconciler.Reset()
	e.goIO(func(ctx context.Context) {
		err := e.api.DeletePushes(ctx, token)
		e.post(func() {
			if err != nil {
				e.recordError("clear push history failed", err)
				return
			}
			e.logger.Info("push history cleared")
		})
	})
}

func (e *Engine) handleStream(ev stream.Event) {
	in, ok := e.stream.Handle(ev)
	if !ok {
		return
	}
	switch in.Kind {
	case stream.InboundOpened:
		e.lastErr = ""
		e.reconciler.Reset()
		e.requestFetch()
	case stream.InboundClosed:
		e.lastErr = in.Err.Error()
	case stream.InboundStale:
		e.lastErr = "heartbeat timeout"
	case stream.InboundPush:
		e.applyPush(in.Push)
	case stream.InboundTickle:
		if in.Subtype == push.TickleSubtypePush {
			e.requestFetch()
		}
	}
}

// applyPush routes a streamed push after decryption; encrypted pushes only
// reveal whether they are mirrors or dismissals once decrypted.
func (e *Engine) applyPush(rec push.Record) {
	rec = resolve(rec, e.session.key, e.logger)
	switch rec.Kind() {
	case push.KindMirror:
		e.registry.Show(rec)
	case push.KindDismissal:
		e.registry.Dismiss(rec)
	default:
		e.logger.Debug("ignoring push", "type", rec.Type, "encrypted", rec.Encrypted)
	}
}

func (e *Engine) requestFetch() {
	token := e.session.accessToken
	if token == "" {
		return
	}
	req, ok := e.reconciler.next()
	if !ok {
		return
	}
	e.goIO(func(ctx context.Context) {
		pushes, err := fetchPushes(ctx, e.api, token, req)
		e.post(func() { e.completeFetch(req, pushes, err) })
	})
}

func (e *Engine) completeFetch(req fetchRequest, pushes []push.Record, err error) {
	var again bool
	if err != nil {
		again = e.reconciler.fail()
		e.recordError("fetch pushes failed", err)
	} else {
		var apply []push.Record
		apply, again = e.reconciler.complete(req, pushes)
		for _, rec := range apply {
			rec = resolve(rec, e.session.key, e.logger)
			if rec.Dismissed {
				e.registry.Dismiss(rec)
			} else {
				e.registry.Show(rec)
			}
		}
	}
	if again {
		e.requestFetch()
	}
}

func (e *Engine) recordError(msg string, err error) {
	e.logger.Warn(msg, "error", err)
	e.lastErr = msg + ": " + err.Error()
}

func (e *Engine) snapshot() Status {
	return Status{
		Connection: e.stream.State(),
		HasToken:   !e.session.Dormant(),
		E2EE:       e.session.e2eeReady(),
		LastError:  e.lastErr,
	}
}

func (e *Engine) publishStatus() {
	st := e.snapshot()
	e.statusMu.Lock()
	changed := st != e.status
	e.status = st
	e.statusMu.Unlock()
	if changed && e.onStatus != nil {
		e.onStatus(st)
	}
}
