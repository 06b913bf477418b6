package playback

import "container/heap"

// chunk is one enqueued, independently-owned audio buffer, ordered by
// (utteranceID, arrivalSeq) per §4.8.
type chunk struct {
	utteranceID string
	arrivalSeq  uint64
	data        []byte
	sampleRate  int
}

// chunkHeap implements container/heap.Interface, ordering chunks first by
// utterance id and then by arrival sequence. In practice only one
// utterance's chunks ever occupy the heap at a time (a new utterance id
// triggers stop() first), so the utterance comparison is a tie-breaker
// that keeps stray leftovers from a race between stop and enqueue from
// jumping the line.
type chunkHeap []*chunk

func (h chunkHeap) Len() int { return len(h) }

func (h chunkHeap) Less(i, j int) bool {
	if h[i].utteranceID != h[j].utteranceID {
		return h[i].utteranceID < h[j].utteranceID
	}
	return h[i].arrivalSeq < h[j].arrivalSeq
}

func (h chunkHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *chunkHeap) Push(x any) {
	*h = append(*h, x.(*chunk))
}

func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*chunkHeap)(nil)
