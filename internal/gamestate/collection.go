package gamestate

// Keyed is implemented by every child model held in a collection.
type Keyed interface {
	Key() string
}

// Collection is a typed mapping with stable insertion order, for children
// whose order is observable.
type Collection[T Keyed] struct {
	order []T
	index map[string]T
}

func NewCollection[T Keyed]() *Collection[T] {
	return &Collection[T]{index: make(map[string]T)}
}

func (c *Collection[T]) Add(item T) {
	key := item.Key()
	if _, exists := c.index[key]; exists {
		for i, existing := range c.order {
			if existing.Key() == key {
				c.order[i] = item
				break
			}
		}
	} else {
		c.order = append(c.order, item)
	}
	c.index[key] = item
}

func (c *Collection[T]) Get(key string) (T, bool) {
	item, ok := c.index[key]
	return item, ok
}

func (c *Collection[T]) Remove(key string) {
	if _, ok := c.index[key]; !ok {
		return
	}
	delete(c.index, key)
	for i, item := range c.order {
		if item.Key() == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// All returns a snapshot copy, safe to iterate while callbacks mutate the
// collection.
func (c *Collection[T]) All() []T {
	out := make([]T, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Collection[T]) Len() int { return len(c.order) }
