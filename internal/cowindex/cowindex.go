package cowindex

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"nexusepoch/internal/cacheline"
	"nexusepoch/pkg/epoch"
)

var (
	ErrKeyNotFound  = errors.New("cowindex: key not found")
	ErrIndexClosed  = errors.New("cowindex: index is closed")
	ErrInvalidKey   = errors.New("cowindex: key cannot be the reserved inactive epoch")
	ErrInvalidValue = errors.New("cowindex: record cannot be nil")
	errNilChild     = errors.New("cowindex: invalid tree structure: nil child")
)

// Index is a copy-on-write tree keyed by epoch.Epoch, with lock-free reads.
// Every read pins a guard from an *epoch.Collector, walks an immutable
// snapshot of nodes, and releases the guard when done. Every write
// serializes through writeMu, clones the path it changes, rebalances any
// node left underflowing by borrowing from a sibling or merging with one,
// swaps the root pointer, and defers destruction of the nodes it replaced
// until the collector's grace period has passed.
type Index struct {
	// root is read on every lock-free Get/Range and written on every
	// Insert/Delete; writeMu is written only by writers serialized behind
	// it. Padding keeps the two from sharing a cache line, since they are
	// touched by disjoint goroutine populations (many readers, one writer
	// at a time) under concurrent load.
	_ cacheline.Pad

	root unsafe.Pointer // *Node

	_ cacheline.Pad

	writeMu sync.Mutex

	collector *epoch.Collector

	// handles is a pool of participant handles shared by readers and
	// writers. Each acquisition is scoped to a single call; the pool
	// exists so repeat operations reuse a handle rather than paying for a
	// fresh Join (and a fresh participant slot) on every call.
	handlesMu sync.Mutex
	handles   []*epoch.ParticipantHandle

	config NodeConfig
	stats  IndexStats
	closed atomic.Bool
	logger *zap.Logger
}

// IndexStats is a snapshot of tree-level counters.
type IndexStats struct {
	KeyCount     int64
	NodeCount    int64
	Height       int64
	InsertCount  int64
	DeleteCount  int64
	GetCount     int64
	SplitCount   int64
	MergeCount   int64
	BorrowCount  int64
	CowCopyCount int64
}

// Option configures an Index at construction time.
type Option func(*Index)

// WithLogger attaches a zap logger used for fatal-path and lifecycle
// logging (a repeated Close, a corrupted tree structure). Defaults to a
// no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(idx *Index) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// New creates an index backed by collector, using the default node
// configuration.
func New(collector *epoch.Collector, opts ...Option) *Index {
	return NewWithConfig(collector, DefaultNodeConfig(), opts...)
}

// NewWithConfig creates an index backed by collector with a custom node
// configuration.
func NewWithConfig(collector *epoch.Collector, config NodeConfig, opts ...Option) *Index {
	idx := &Index{collector: collector, config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(idx)
	}

	root := newLeaf()
	atomic.StorePointer(&idx.root, unsafe.Pointer(root))
	atomic.AddInt64(&idx.stats.NodeCount, 1)
	atomic.AddInt64(&idx.stats.Height, 1)
	return idx
}

func (t *Index) getRoot() *Node {
	ptr := atomic.LoadPointer(&t.root)
	if ptr == nil {
		return nil
	}
	return (*Node)(ptr)
}

func (t *Index) setRoot(newRoot *Node) {
	atomic.StorePointer(&t.root, unsafe.Pointer(newRoot))
}

func (t *Index) acquireHandle() *epoch.ParticipantHandle {
	t.handlesMu.Lock()
	defer t.handlesMu.Unlock()
	if n := len(t.handles); n > 0 {
		h := t.handles[n-1]
		t.handles = t.handles[:n-1]
		return h
	}
	return t.collector.Join()
}

func (t *Index) releaseHandle(h *epoch.ParticipantHandle) {
	t.handlesMu.Lock()
	t.handles = append(t.handles, h)
	t.handlesMu.Unlock()
}

// Get retrieves the record stored for key. Lock-free: it pins a guard for
// the duration of the walk and releases it before returning.
func (t *Index) Get(key epoch.Epoch) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrIndexClosed
	}
	atomic.AddInt64(&t.stats.GetCount, 1)

	h := t.acquireHandle()
	guard := t.collector.Pin(h)
	defer func() {
		guard.Dispose()
		t.releaseHandle(h)
	}()

	node := t.getRoot()
	if node == nil {
		return nil, ErrKeyNotFound
	}
	for !node.IsLeaf() {
		child := node.GetChild(childFor(node.keys, key))
		if child == nil {
			t.logger.Error("descended to nil child during get", zap.Uint64("key", uint64(key)))
			return nil, ErrKeyNotFound
		}
		node = child
	}

	pos := locate(node.keys, key)
	if pos < node.KeyCount() && node.GetKey(pos) == key {
		return copyBytes(node.GetRecord(pos)), nil
	}
	return nil, ErrKeyNotFound
}

// splitResult carries a node's promoted separator and new sibling back up
// the insert path.
type splitResult struct {
	right     *Node
	separator epoch.Epoch
}

// Insert stores record under key, splitting any node that overflows along
// the write path.
func (t *Index) Insert(key epoch.Epoch, record []byte) error {
	if t.closed.Load() {
		return ErrIndexClosed
	}
	if key == epoch.INACTIVE {
		return ErrInvalidKey
	}
	if record == nil {
		return ErrInvalidValue
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	atomic.AddInt64(&t.stats.InsertCount, 1)

	h := t.acquireHandle()
	guard := t.collector.Pin(h)
	defer func() {
		guard.Dispose()
		t.releaseHandle(h)
	}()

	oldRoot := t.getRoot()
	newRoot, split, grew, err := t.insertInto(oldRoot, key, record)
	if err != nil {
		return err
	}
	if split != nil {
		top := newInterior()
		top.keys = []epoch.Epoch{split.separator}
		top.children = []unsafe.Pointer{unsafe.Pointer(newRoot), unsafe.Pointer(split.right)}
		atomic.AddInt64(&t.stats.NodeCount, 1)
		atomic.AddInt64(&t.stats.Height, 1)
		newRoot = top
	}

	t.retireOldPath(guard, oldRoot, newRoot)
	t.setRoot(newRoot)
	if grew {
		atomic.AddInt64(&t.stats.KeyCount, 1)
	}

	t.collector.TryAdvanceAndCollect()
	return nil
}

func (t *Index) insertInto(node *Node, key epoch.Epoch, record []byte) (*Node, *splitResult, bool, error) {
	if node.IsLeaf() {
		return t.insertLeaf(node, key, record)
	}
	return t.insertInterior(node, key, record)
}

func (t *Index) insertLeaf(node *Node, key epoch.Epoch, record []byte) (*Node, *splitResult, bool, error) {
	clone := node.clone()
	atomic.AddInt64(&t.stats.CowCopyCount, 1)

	pos := locate(clone.keys, key)
	existed := pos < clone.KeyCount() && clone.keys[pos] == key
	clone.put(key, record)

	if clone.full(t.config.MaxKeys) {
		separator, right := clone.splitLeaf()
		atomic.AddInt64(&t.stats.SplitCount, 1)
		atomic.AddInt64(&t.stats.NodeCount, 1)
		return clone, &splitResult{right: right, separator: separator}, !existed, nil
	}
	return clone, nil, !existed, nil
}

func (t *Index) insertInterior(node *Node, key epoch.Epoch, record []byte) (*Node, *splitResult, bool, error) {
	childIdx := childFor(node.keys, key)
	child := node.GetChild(childIdx)
	if child == nil {
		t.logger.Error("interior node missing child during insert", zap.Int("child_index", childIdx))
		return nil, nil, false, errNilChild
	}

	newChild, childSplit, grew, err := t.insertInto(child, key, record)
	if err != nil {
		return nil, nil, false, err
	}

	clone := node.clone()
	atomic.AddInt64(&t.stats.CowCopyCount, 1)
	clone.setChild(childIdx, newChild)

	if childSplit != nil {
		clone.insertSeparator(childSplit.separator, childSplit.right)
		if clone.full(t.config.MaxKeys) {
			separator, right := clone.splitInterior()
			atomic.AddInt64(&t.stats.SplitCount, 1)
			atomic.AddInt64(&t.stats.NodeCount, 1)
			return clone, &splitResult{right: right, separator: separator}, grew, nil
		}
	}
	return clone, nil, grew, nil
}

// Delete removes key from the tree, rebalancing any node left underflowing
// by borrowing from a sibling or merging with one.
func (t *Index) Delete(key epoch.Epoch) error {
	if t.closed.Load() {
		return ErrIndexClosed
	}
	if key == epoch.INACTIVE {
		return ErrInvalidKey
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	atomic.AddInt64(&t.stats.DeleteCount, 1)

	h := t.acquireHandle()
	guard := t.collector.Pin(h)
	defer func() {
		guard.Dispose()
		t.releaseHandle(h)
	}()

	oldRoot := t.getRoot()
	newRoot, found, err := t.deleteFrom(oldRoot, key)
	if err != nil {
		return err
	}
	if !found {
		return ErrKeyNotFound
	}

	t.retireOldPath(guard, oldRoot, newRoot)

	if newRoot != nil && !newRoot.IsLeaf() && newRoot.KeyCount() == 0 && len(newRoot.children) > 0 {
		newRoot = newRoot.GetChild(0)
		atomic.AddInt64(&t.stats.Height, -1)
	}

	t.setRoot(newRoot)
	atomic.AddInt64(&t.stats.KeyCount, -1)

	t.collector.TryAdvanceAndCollect()
	return nil
}

func (t *Index) deleteFrom(node *Node, key epoch.Epoch) (*Node, bool, error) {
	if node.IsLeaf() {
		return t.deleteLeaf(node, key)
	}
	return t.deleteInterior(node, key)
}

func (t *Index) deleteLeaf(node *Node, key epoch.Epoch) (*Node, bool, error) {
	pos := locate(node.keys, key)
	if pos >= node.KeyCount() || node.keys[pos] != key {
		return node, false, nil
	}
	clone := node.clone()
	atomic.AddInt64(&t.stats.CowCopyCount, 1)
	clone.remove(key)
	return clone, true, nil
}

func (t *Index) deleteInterior(node *Node, key epoch.Epoch) (*Node, bool, error) {
	childIdx := childFor(node.keys, key)
	child := node.GetChild(childIdx)
	if child == nil {
		return node, false, nil
	}

	newChild, found, err := t.deleteFrom(child, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return node, false, nil
	}

	clone := node.clone()
	atomic.AddInt64(&t.stats.CowCopyCount, 1)
	clone.setChild(childIdx, newChild)

	if newChild.thin(t.config.MaxKeys) && len(clone.children) > 1 {
		t.rebalance(clone, childIdx)
	}
	return clone, true, nil
}

// rebalance repairs an underflowing child at clone.children[childIdx] by
// borrowing a spare entry from a sibling that has one, or merging with a
// sibling that has none. Both the child and its chosen sibling are already
// private to this write (the child via deleteFrom's clone, the sibling via
// the clone taken here), so mutating either in place is safe.
func (t *Index) rebalance(clone *Node, childIdx int) {
	child := clone.GetChild(childIdx)

	if childIdx > 0 {
		if left := clone.GetChild(childIdx - 1); left != nil && !left.thin(t.config.MaxKeys) {
			leftClone := left.clone()
			separator := clone.keys[childIdx-1]
			var newSeparator epoch.Epoch
			if child.IsLeaf() {
				newSeparator = child.borrowLeafFromLeft(leftClone)
			} else {
				newSeparator = child.borrowInteriorFromLeft(separator, leftClone)
			}
			clone.keys[childIdx-1] = newSeparator
			clone.setChild(childIdx-1, leftClone)
			atomic.AddInt64(&t.stats.BorrowCount, 1)
			return
		}
	}

	if childIdx < len(clone.children)-1 {
		if right := clone.GetChild(childIdx + 1); right != nil && !right.thin(t.config.MaxKeys) {
			rightClone := right.clone()
			separator := clone.keys[childIdx]
			var newSeparator epoch.Epoch
			if child.IsLeaf() {
				newSeparator = child.borrowLeafFromRight(rightClone)
			} else {
				newSeparator = child.borrowInteriorFromRight(separator, rightClone)
			}
			clone.keys[childIdx] = newSeparator
			clone.setChild(childIdx+1, rightClone)
			atomic.AddInt64(&t.stats.BorrowCount, 1)
			return
		}
	}

	if childIdx > 0 {
		leftClone := clone.GetChild(childIdx - 1).clone()
		separator := clone.keys[childIdx-1]
		if child.IsLeaf() {
			leftClone.mergeLeaf(child)
		} else {
			leftClone.mergeInterior(separator, child)
		}
		clone.keys = deleteAt(clone.keys, childIdx-1)
		clone.children = deleteAt(clone.children, childIdx)
		clone.setChild(childIdx-1, leftClone)
		atomic.AddInt64(&t.stats.MergeCount, 1)
		return
	}

	right := clone.GetChild(childIdx + 1)
	separator := clone.keys[childIdx]
	if child.IsLeaf() {
		child.mergeLeaf(right)
	} else {
		child.mergeInterior(separator, right)
	}
	clone.keys = deleteAt(clone.keys, childIdx)
	clone.children = deleteAt(clone.children, childIdx+1)
	atomic.AddInt64(&t.stats.MergeCount, 1)
}

// retireOldPath defers destruction of the replaced root through guard
// rather than the tree keeping its own epoch bookkeeping. The collector's
// grace period keeps oldRoot alive for any reader still walking it. The
// destructor itself is a no-op: Go's garbage collector reclaims a node
// once nothing references it, so there is nothing to manually free.
// Routing through Defer still exercises the collector's reclamation
// timing, surfacing in Statistics().ObjectsCollected even though no free()
// call backs it.
func (t *Index) retireOldPath(guard *epoch.Guard, oldRoot, newRoot *Node) {
	if oldRoot == nil || oldRoot == newRoot {
		return
	}
	epoch.Defer(guard, oldRoot, func(*Node) {})
}

// Stats returns a snapshot of the index's counters.
func (t *Index) Stats() IndexStats {
	return IndexStats{
		KeyCount:     atomic.LoadInt64(&t.stats.KeyCount),
		NodeCount:    atomic.LoadInt64(&t.stats.NodeCount),
		Height:       atomic.LoadInt64(&t.stats.Height),
		InsertCount:  atomic.LoadInt64(&t.stats.InsertCount),
		DeleteCount:  atomic.LoadInt64(&t.stats.DeleteCount),
		GetCount:     atomic.LoadInt64(&t.stats.GetCount),
		SplitCount:   atomic.LoadInt64(&t.stats.SplitCount),
		MergeCount:   atomic.LoadInt64(&t.stats.MergeCount),
		BorrowCount:  atomic.LoadInt64(&t.stats.BorrowCount),
		CowCopyCount: atomic.LoadInt64(&t.stats.CowCopyCount),
	}
}

// KeyCount returns the current number of keys in the tree.
func (t *Index) KeyCount() int64 {
	return atomic.LoadInt64(&t.stats.KeyCount)
}

// Range performs an in-order scan from start to end, inclusive. Pass
// epoch.INACTIVE for either bound to leave that direction unbounded;
// INACTIVE is reserved and never a key a caller inserted.
func (t *Index) Range(start, end epoch.Epoch, fn func(key epoch.Epoch, record []byte) bool) error {
	if t.closed.Load() {
		return ErrIndexClosed
	}

	h := t.acquireHandle()
	guard := t.collector.Pin(h)
	defer func() {
		guard.Dispose()
		t.releaseHandle(h)
	}()

	root := t.getRoot()
	if root == nil {
		return nil
	}

	// Leaf next links are not kept current under copy-on-write, so each
	// following leaf is reached by descending again from the captured root
	// toward the tightest separator above the leaf just scanned.
	seek := start
	for {
		node, upper := root, epoch.INACTIVE
		for !node.IsLeaf() {
			idx := 0
			if seek != epoch.INACTIVE {
				idx = childFor(node.keys, seek)
			}
			if idx < node.KeyCount() {
				upper = node.keys[idx]
			}
			child := node.GetChild(idx)
			if child == nil {
				return nil
			}
			node = child
		}

		for i := 0; i < node.KeyCount(); i++ {
			key := node.GetKey(i)
			if start != epoch.INACTIVE && key < start {
				continue
			}
			if end != epoch.INACTIVE && key > end {
				return nil
			}
			if !fn(key, node.GetRecord(i)) {
				return nil
			}
		}
		if upper == epoch.INACTIVE {
			return nil
		}
		seek = upper
	}
}

// ForEach iterates over every key/record pair in order.
func (t *Index) ForEach(fn func(key epoch.Epoch, record []byte) bool) error {
	return t.Range(epoch.INACTIVE, epoch.INACTIVE, fn)
}

// Close shuts down the index and makes EpochRingSize advance-and-collect
// attempts on the collector, which drain every garbage bag when no
// participant is pinned; a pinned participant blocks those advances and
// leaves its bags in place. It does not shut down the collector itself, since other collaborators may
// still share it; a caller that owns the collector exclusively should also
// call collector.Shutdown().
func (t *Index) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		t.logger.Warn("index already closed")
		return ErrIndexClosed
	}
	for i := 0; i < epoch.EpochRingSize; i++ {
		t.collector.TryAdvanceAndCollect()
	}
	return nil
}
