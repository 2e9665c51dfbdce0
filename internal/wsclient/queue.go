package wsclient

// queuedFrame is one serialized message waiting for the connection to come
// back.
type queuedFrame struct {
	data     []byte
	priority bool
}

// pendingQueue is the ordered backlog built up while disconnected. Priority
// frames are inserted at the front so control messages jump ahead of bulk
// application traffic. The queue is bounded; on overflow the oldest frame is
// dropped. Callers serialize access (the manager's mutex).
type pendingQueue struct {
	limit  int
	frames []queuedFrame
}

func newPendingQueue(limit int) *pendingQueue {
	return &pendingQueue{limit: limit}
}

// push appends a frame, or prepends it when priority is set. Returns true if
// an older frame had to be dropped to make room.
func (q *pendingQueue) push(data []byte, priority bool) bool {
	dropped := false
	if len(q.frames) >= q.limit {
		q.frames = q.frames[1:]
		dropped = true
	}

	frame := queuedFrame{data: data, priority: priority}
	if priority {
		q.frames = append([]queuedFrame{frame}, q.frames...)
	} else {
		q.frames = append(q.frames, frame)
	}
	return dropped
}

// drain returns all queued frames in flush order and empties the queue.
func (q *pendingQueue) drain() [][]byte {
	out := make([][]byte, len(q.frames))
	for i, f := range q.frames {
		out[i] = f.data
	}
	q.frames = nil
	return out
}

// len reports the number of queued frames.
func (q *pendingQueue) len() int {
	return len(q.frames)
}
