package na

import "sync"

// completionEntry is one queued completion result, with the release hook
// that must run after the user callback returns.
type completionEntry struct {
	cb      CompletionCallback
	info    *CompletionInfo
	release func()
}

// CallbackQueue is the upper layer's trigger queue: complete() (§4.9)
// enqueues onto it rather than invoking the user callback inline, and the
// framework drains it from whatever thread it chooses to run callbacks on.
type CallbackQueue struct {
	mu    sync.Mutex
	items []completionEntry
}

func NewCallbackQueue() *CallbackQueue { return &CallbackQueue{} }

func (q *CallbackQueue) push(cb CompletionCallback, info *CompletionInfo, release func()) {
	q.mu.Lock()
	q.items = append(q.items, completionEntry{cb: cb, info: info, release: release})
	q.mu.Unlock()
}

// Trigger invokes up to max queued callbacks in enqueue order (max <= 0
// means drain everything currently queued), running each entry's release
// hook immediately after its callback returns. Returns the number
// triggered.
func (q *CallbackQueue) Trigger(max int) int {
	q.mu.Lock()
	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	q.mu.Unlock()

	for _, e := range batch {
		if e.cb != nil {
			e.cb(e.info)
		}
		if e.release != nil {
			e.release()
		}
	}
	return len(batch)
}

// Len reports the number of completions waiting to be triggered.
func (q *CallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
