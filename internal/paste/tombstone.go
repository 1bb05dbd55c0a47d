package paste

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// tombstones remembers ids whose pastes can never be served again so repeat
// reads skip the store. Only terminal states go in: a view-exhausted paste
// cannot gain views and an expired one cannot un-expire.
type tombstones struct {
	c *lru.Cache[string, struct{}]
}

func newTombstones(size int) (*tombstones, error) {
	if size <= 0 {
		return &tombstones{}, nil
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &tombstones{c: c}, nil
}

func (t *tombstones) has(id string) bool {
	if t.c == nil {
		return false
	}
	return t.c.Contains(id)
}

func (t *tombstones) add(id string) {
	if t.c == nil {
		return
	}
	t.c.Add(id, struct{}{})
}

func (t *tombstones) remove(id string) {
	if t.c == nil {
		return
	}
	t.c.Remove(id)
}

func (t *tombstones) len() int {
	if t.c == nil {
		return 0
	}
	return t.c.Len()
}
