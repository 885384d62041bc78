package forensics

import "container/list"

// lru is a bounded least-recently-used set of trade IDs, used to detect
// duplicate deliveries (D2) without holding every trade_id ever seen.
type lru struct {
	max   int
	ll    *list.List
	index map[int64]*list.Element
}

func newLRU(max int) *lru {
	if max <= 0 {
		max = 50000
	}
	return &lru{max: max, ll: list.New(), index: make(map[int64]*list.Element, max)}
}

// seenOrAdd reports whether tradeID was already present, inserting it (and
// marking it most-recently-used) if not. Evicts the least-recently-used
// entry once the set is at capacity.
func (l *lru) seenOrAdd(tradeID int64) bool {
	if el, ok := l.index[tradeID]; ok {
		l.ll.MoveToFront(el)
		return true
	}
	el := l.ll.PushFront(tradeID)
	l.index[tradeID] = el
	if l.ll.Len() > l.max {
		oldest := l.ll.Back()
		if oldest != nil {
			l.ll.Remove(oldest)
			delete(l.index, oldest.Value.(int64))
		}
	}
	return false
}

func (l *lru) Len() int {
	return l.ll.Len()
}
