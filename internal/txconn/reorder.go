package txconn

import "container/heap"

// pendingFrame is one entry of a reorder buffer's heap.
type pendingFrame struct {
	ordID uint32
	data  []byte
}

// frameHeap is a min-heap over pendingFrame.ordID.
type frameHeap []pendingFrame

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i].ordID < h[j].ordID }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(pendingFrame)) }
func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// reorderBuffer is the per-(listening uid, txid) structure from spec §3: a
// min-heap of pending packets keyed by ord_id, the next expected sequence
// number, and the last time a packet was accepted.
type reorderBuffer struct {
	heap        frameHeap
	waitOrdID   uint32
	lastOrdTime int64
}

func newReorderBuffer(now int64) *reorderBuffer {
	return &reorderBuffer{heap: frameHeap{}, waitOrdID: 0, lastOrdTime: now}
}

// push inserts a frame and drains every frame now in sequence, returning
// them in order. The caller is responsible for delivering each drained
// frame upward and updating lastOrdTime.
func (b *reorderBuffer) push(ordID uint32, data []byte) [][]byte {
	heap.Push(&b.heap, pendingFrame{ordID: ordID, data: data})

	var drained [][]byte
	for len(b.heap) > 0 && b.heap[0].ordID == b.waitOrdID {
		next := heap.Pop(&b.heap).(pendingFrame)
		drained = append(drained, next.data)
		b.waitOrdID++
	}
	return drained
}
