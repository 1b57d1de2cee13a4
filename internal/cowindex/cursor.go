package cowindex

import (
	"nexusepoch/pkg/epoch"
)

// Cursor iterates over a single consistent snapshot of the tree: the root
// is captured and a guard pinned when the cursor is created, so concurrent
// writes never change what the cursor sees, and the nodes it walks are
// guaranteed live until Close releases the guard.
type Cursor struct {
	tree   *Index
	handle *epoch.ParticipantHandle
	guard  *epoch.Guard
	root   *Node
	stack  []*cursorFrame
	valid  bool
	closed bool
}

type cursorFrame struct {
	node *Node
	pos  int
}

// Cursor opens a new cursor over a consistent snapshot of t. Close must be
// called to release the underlying guard.
func (t *Index) Cursor() *Cursor {
	h := t.acquireHandle()
	guard := t.collector.Pin(h)
	root := t.getRoot()

	return &Cursor{
		tree:   t,
		handle: h,
		guard:  guard,
		root:   root,
		stack:  make([]*cursorFrame, 0, 8),
	}
}

// First moves the cursor to the first entry.
func (c *Cursor) First() {
	if c.closed {
		return
	}
	c.reset()
	if c.root == nil {
		return
	}

	node := c.root
	for !node.IsLeaf() {
		c.stack = append(c.stack, &cursorFrame{node: node, pos: 0})
		child := node.GetChild(0)
		if child == nil {
			return
		}
		node = child
	}
	c.stack = append(c.stack, &cursorFrame{node: node, pos: 0})
	c.valid = node.KeyCount() > 0
}

// Last moves the cursor to the last entry.
func (c *Cursor) Last() {
	if c.closed {
		return
	}
	c.reset()
	if c.root == nil {
		return
	}

	node := c.root
	for !node.IsLeaf() {
		count := node.KeyCount()
		c.stack = append(c.stack, &cursorFrame{node: node, pos: count})
		child := node.GetChild(count)
		if child == nil {
			return
		}
		node = child
	}
	count := node.KeyCount()
	c.stack = append(c.stack, &cursorFrame{node: node, pos: count - 1})
	c.valid = count > 0
}

// Seek moves the cursor to the first entry >= key.
func (c *Cursor) Seek(key epoch.Epoch) {
	if c.closed {
		return
	}
	c.reset()
	if c.root == nil {
		return
	}

	node := c.root
	for !node.IsLeaf() {
		pos := childFor(node.keys, key)
		c.stack = append(c.stack, &cursorFrame{node: node, pos: pos})
		child := node.GetChild(pos)
		if child == nil {
			return
		}
		node = child
	}

	pos := locate(node.keys, key)
	c.stack = append(c.stack, &cursorFrame{node: node, pos: pos})
	if pos < node.KeyCount() {
		c.valid = true
	} else {
		c.valid = false
		c.moveToNextLeaf()
	}
}

// Next advances the cursor to the next entry.
func (c *Cursor) Next() {
	if !c.valid || len(c.stack) == 0 || c.closed {
		return
	}
	leaf := c.stack[len(c.stack)-1]
	leaf.pos++
	if leaf.pos < leaf.node.KeyCount() {
		return
	}
	c.moveToNextLeaf()
}

func (c *Cursor) moveToNextLeaf() {
	if len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}

	for len(c.stack) > 0 {
		parent := c.stack[len(c.stack)-1]
		parent.pos++

		if parent.pos <= parent.node.KeyCount() {
			child := parent.node.GetChild(parent.pos)
			if child == nil {
				c.valid = false
				return
			}
			node := child
			for !node.IsLeaf() {
				c.stack = append(c.stack, &cursorFrame{node: node, pos: 0})
				node = node.GetChild(0)
				if node == nil {
					c.valid = false
					return
				}
			}
			c.stack = append(c.stack, &cursorFrame{node: node, pos: 0})
			c.valid = node.KeyCount() > 0
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.valid = false
}

// Prev moves the cursor to the previous entry.
func (c *Cursor) Prev() {
	if !c.valid || len(c.stack) == 0 || c.closed {
		return
	}
	leaf := c.stack[len(c.stack)-1]
	leaf.pos--
	if leaf.pos >= 0 {
		return
	}
	c.moveToPrevLeaf()
}

func (c *Cursor) moveToPrevLeaf() {
	if len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}

	for len(c.stack) > 0 {
		parent := c.stack[len(c.stack)-1]
		parent.pos--

		if parent.pos >= 0 {
			child := parent.node.GetChild(parent.pos)
			if child == nil {
				c.valid = false
				return
			}
			node := child
			for !node.IsLeaf() {
				count := node.KeyCount()
				c.stack = append(c.stack, &cursorFrame{node: node, pos: count})
				node = node.GetChild(count)
				if node == nil {
					c.valid = false
					return
				}
			}
			count := node.KeyCount()
			c.stack = append(c.stack, &cursorFrame{node: node, pos: count - 1})
			c.valid = count > 0
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.valid = false
}

// Valid reports whether the cursor currently points at an entry.
func (c *Cursor) Valid() bool { return c.valid && !c.closed }

// Key returns the key at the cursor's current position, or epoch.INACTIVE
// if the cursor is not positioned on an entry.
func (c *Cursor) Key() epoch.Epoch {
	if !c.valid || len(c.stack) == 0 || c.closed {
		return epoch.INACTIVE
	}
	leaf := c.stack[len(c.stack)-1]
	return leaf.node.GetKey(leaf.pos)
}

// Record returns the payload at the cursor's current position.
func (c *Cursor) Record() []byte {
	if !c.valid || len(c.stack) == 0 || c.closed {
		return nil
	}
	leaf := c.stack[len(c.stack)-1]
	return copyBytes(leaf.node.GetRecord(leaf.pos))
}

// Close releases the cursor's guard, allowing the snapshot it pinned to be
// reclaimed once the grace period elapses.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.reset()
	if c.guard != nil {
		c.guard.Dispose()
		c.tree.releaseHandle(c.handle)
		c.guard = nil
	}
}

func (c *Cursor) reset() {
	c.stack = c.stack[:0]
	c.valid = false
}

// SeekExact moves to key exactly, reporting whether it was found.
func (c *Cursor) SeekExact(key epoch.Epoch) bool {
	c.Seek(key)
	if !c.valid {
		return false
	}
	return c.Key() == key
}
