package docstore

import "sync"

// Notifier signals per-document changes. Signals coalesce: a subscriber that
// is slow sees one pending signal and re-reads the latest document.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[string]map[chan struct{}]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[string]map[chan struct{}]struct{})}
}

func (n *Notifier) Subscribe(id string) chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	subs, ok := n.subscribers[id]
	if !ok {
		subs = make(map[chan struct{}]struct{})
		n.subscribers[id] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

func (n *Notifier) Unsubscribe(id string, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs, ok := n.subscribers[id]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(n.subscribers, id)
	}
}

func (n *Notifier) Notify(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subscribers[id] {
		select {
		case ch <- struct{}{}:
		default:
			// 既に通知待ちがあるので捨ててよい
		}
	}
}

// Count returns the number of subscribers for id.
func (n *Notifier) Count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers[id])
}
