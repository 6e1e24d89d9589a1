package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"cxl-sched/internal/model"
)

// Entry is one runnable task in the dispatch queue. Admission data is captured at
// enqueue so dispatch never touches task state.
type Entry struct {
	VTime    uint64
	Seq      uint64
	Slot     int32
	TaskID   int32
	// Gen is the task table slot generation at enqueue.
	Gen      uint64
	Critical bool
	Channel  model.Channel
	Demand   uint64
}

func less(a, b *Entry) bool {
	if a.VTime != b.VTime {
		return a.VTime < b.VTime
	}
	return a.Seq < b.Seq
}

// Admitter decides whether a bandwidth-critical entry may run on cpu at time now.
type Admitter interface {
	Admit(cpu int32, now uint64, e *Entry) bool
}

// PopResult describes the outcome of Pop.
type PopResult uint8

const (
	Popped PopResult = iota
	Empty
	// Denied means every candidate tried this cycle failed admission.
	Denied
)

// Queue is a fixed-capacity binary heap ordered by (vtime, seq), indexed by task slot.
type Queue struct {
	mu      sync.Mutex
	heap    []Entry
	n       int
	pos     []int32
	seq     uint64
	repairs atomic.Uint64
	denials atomic.Uint64
}

// NewQueue allocates a queue for task slots in [0, slots).
func NewQueue(slots int) *Queue {
	q := &Queue{heap: make([]Entry, slots), pos: make([]int32, slots)}
	for i := range q.pos {
		q.pos[i] = -1
	}
	return q
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Repairs returns how many ordering inversions were detected and repaired.
func (q *Queue) Repairs() uint64 {
	return q.repairs.Load()
}

// Denials returns how many candidates failed admission.
func (q *Queue) Denials() uint64 {
	return q.denials.Load()
}

// Push inserts e, or repositions it when its slot is already queued. The sequence
// number is assigned here.
func (q *Queue) Push(e Entry) bool {
	if e.Slot < 0 || int(e.Slot) >= len(q.pos) {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	e.Seq = q.seq
	if i := q.pos[e.Slot]; i >= 0 {
		q.heap[i] = e
		q.fix(int(i))
		return true
	}
	i := q.n
	q.n++
	q.set(i, e)
	q.up(i)
	return true
}

// Remove drops the slot's entry if queued.
func (q *Queue) Remove(slot int32) bool {
	if slot < 0 || int(slot) >= len(q.pos) {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.pos[slot]
	if i < 0 {
		return false
	}
	q.removeAt(int(i))
	return true
}

// Contains reports whether the slot is queued.
func (q *Queue) Contains(slot int32) bool {
	if slot < 0 || int(slot) >= len(q.pos) {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pos[slot] >= 0
}

// Pop removes and returns the minimal entry that may run on cpu. A critical entry that
// fails admission stays queued unchanged and exactly one further candidate, the next
// minimal entry, is tried.
func (q *Queue) Pop(cpu int32, now uint64, adm Admitter) (Entry, PopResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return Entry{}, Empty
	}
	if q.runnable(cpu, now, 0, adm) {
		e := q.heap[0]
		q.removeAt(0)
		q.checkRoot(&e)
		return e, Popped
	}
	q.denials.Add(1)

	next := -1
	for _, c := range [2]int{1, 2} {
		if c < q.n && (next < 0 || less(&q.heap[c], &q.heap[next])) {
			next = c
		}
	}
	if next < 0 {
		return Entry{}, Denied
	}
	if q.runnable(cpu, now, next, adm) {
		e := q.heap[next]
		q.removeAt(next)
		return e, Popped
	}
	q.denials.Add(1)
	return Entry{}, Denied
}

func (q *Queue) runnable(cpu int32, now uint64, i int, adm Admitter) bool {
	e := &q.heap[i]
	return !e.Critical || adm == nil || adm.Admit(cpu, now, e)
}

// checkRoot verifies that nothing left in the heap sorts before the entry just taken
// from the root.
func (q *Queue) checkRoot(popped *Entry) {
	if q.n == 0 || !less(&q.heap[0], popped) {
		return
	}
	if debugAssertions {
		panic(fmt.Sprintf("dispatch queue ordering inverted: root vtime %d seq %d before popped vtime %d seq %d",
			q.heap[0].VTime, q.heap[0].Seq, popped.VTime, popped.Seq))
	}
	q.repairs.Add(1)
	for i := q.n/2 - 1; i >= 0; i-- {
		q.down(i)
	}
}

func (q *Queue) set(i int, e Entry) {
	q.heap[i] = e
	q.pos[e.Slot] = int32(i)
}

func (q *Queue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.pos[q.heap[i].Slot] = int32(i)
	q.pos[q.heap[j].Slot] = int32(j)
}

func (q *Queue) removeAt(i int) {
	q.pos[q.heap[i].Slot] = -1
	last := q.n - 1
	q.n--
	if i == last {
		q.heap[last] = Entry{}
		return
	}
	q.set(i, q.heap[last])
	q.heap[last] = Entry{}
	q.fix(i)
}

func (q *Queue) fix(i int) {
	if !q.down(i) {
		q.up(i)
	}
}

func (q *Queue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !less(&q.heap[i], &q.heap[parent]) {
			break
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *Queue) down(i0 int) bool {
	i := i0
	for {
		l := 2*i + 1
		if l >= q.n {
			break
		}
		j := l
		if r := l + 1; r < q.n && less(&q.heap[r], &q.heap[l]) {
			j = r
		}
		if !less(&q.heap[j], &q.heap[i]) {
			break
		}
		q.swap(i, j)
		i = j
	}
	return i > i0
}
