package operator

import (
	"sort"
	"sync"

	"github.com/maxpert/topocorr/item"
)

type decision struct {
	op      string
	id      string
	members []string
}

// recordingOutput keeps every decision plus the current live wrappers
type recordingOutput struct {
	mu        sync.Mutex
	decisions []decision
	live      map[string]*item.OverlayItemWrapper
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{live: make(map[string]*item.OverlayItemWrapper)}
}

func (r *recordingOutput) record(op string, w *item.OverlayItemWrapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decision{op: op, id: w.ID, members: memberIDs(w)})
	if op == "remove" {
		delete(r.live, w.ID)
	} else {
		r.live[w.ID] = w
	}
}

func (r *recordingOutput) AddOverlayItem(w *item.OverlayItemWrapper)    { r.record("add", w) }
func (r *recordingOutput) UpdateOverlayItem(w *item.OverlayItemWrapper) { r.record("update", w) }
func (r *recordingOutput) RemoveOverlayItem(w *item.OverlayItemWrapper) { r.record("remove", w) }

func (r *recordingOutput) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.decisions))
	for _, d := range r.decisions {
		out = append(out, d.op)
	}
	return out
}

func (r *recordingOutput) last() decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[len(r.decisions)-1]
}

// groups returns the sorted member sets of all live wrappers
func (r *recordingOutput) groups() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, w := range r.live {
		out = append(out, memberIDs(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func memberIDs(w *item.OverlayItemWrapper) []string {
	var ids []string
	for _, m := range w.Members() {
		ids = append(ids, m.TopologyID+"/"+m.ItemID)
	}
	sort.Strings(ids)
	return ids
}

func nodeItem(topology, id string, payload map[string]any) *item.UnderlayItem {
	return item.NewUnderlayItem(payload, topology, id, item.Node)
}

type call struct {
	op   string
	keys []string
	u    *item.UnderlayItem
}

// recordingOperator records what a decorator forwarded
type recordingOperator struct {
	calls []call
}

func (r *recordingOperator) ProcessCreated(key string, u *item.UnderlayItem, _ string) {
	r.calls = append(r.calls, call{op: "created", keys: []string{key}, u: u})
}

func (r *recordingOperator) ProcessUpdated(key string, u *item.UnderlayItem, _ string) {
	r.calls = append(r.calls, call{op: "updated", keys: []string{key}, u: u})
}

func (r *recordingOperator) ProcessRemoved(keys []string, _ string) {
	r.calls = append(r.calls, call{op: "removed", keys: keys})
}
