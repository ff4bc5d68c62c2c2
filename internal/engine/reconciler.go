package engine

import (
	"context"
	"strings"

	"github.com/agentworkforce/pushmirror/internal/push"
)

type fetchRequest struct {
	mark  *float64
	epoch uint64
}

func (r fetchRequest) baseline() bool {
	return r.mark == nil
}

// Reconciler tracks the high-water mark of the push history and serializes
// catch-up fetches: one fetch is in flight at a time and requests made
// meanwhile collapse into a single re-run that sees the updated mark.
type Reconciler struct {
	mark     *float64
	epoch    uint64
	inFlight bool
	pending  bool
}

func (r *Reconciler) Mark() (float64, bool) {
	if r.mark == nil {
		return 0, false
	}
	return *r.mark, true
}

// Reset forgets the mark so the next fetch only peeks at the newest push.
// Fetches issued before the reset can no longer move the mark.
func (r *Reconciler) Reset() {
	r.mark = nil
	r.epoch++
}

func (r *Reconciler) next() (fetchRequest, bool) {
	if r.inFlight {
		r.pending = true
		return fetchRequest{}, false
	}
	r.inFlight = true
	req := fetchRequest{epoch: r.epoch}
	if r.mark != nil {
		mark := *r.mark
		req.mark = &mark
	}
	return req, true
}

// complete records a successful fetch and returns the pushes to apply plus
// whether another fetch was requested while this one ran. Responses are
// newest first. A fetch issued before the last Reset applies nothing.
func (r *Reconciler) complete(req fetchRequest, pushes []push.Record) ([]push.Record, bool) {
	again := r.settle()
	if req.epoch != r.epoch {
		return nil, again
	}
	if len(pushes) > 0 && pushes[0].Modified > 0 {
		if r.mark == nil || pushes[0].Modified > *r.mark {
			mark := pushes[0].Modified
			r.mark = &mark
		}
	}
	if req.baseline() {
		return nil, again
	}
	apply := make([]push.Record, 0, len(pushes))
	for _, p := range pushes {
		if strings.TrimSpace(p.Type) == "" {
			continue
		}
		apply = append(apply, p)
	}
	return apply, again
}

func (r *Reconciler) fail() bool {
	return r.settle()
}

func (r *Reconciler) settle() bool {
	r.inFlight = false
	again := r.pending
	r.pending = false
	return again
}

func fetchPushes(ctx context.Context, api PushAPI, token string, req fetchRequest) ([]push.Record, error) {
	if req.baseline() {
		list, err := api.ListPushes(ctx, token, nil, 1)
		return list.Pushes, err
	}
	list, err := api.ListPushes(ctx, token, req.mark, 0)
	return list.Pushes, err
}
