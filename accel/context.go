package accel

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sphforge/calcserver/calcerr"
)

// Queue is one logical, in-order command stream. All kernel launches and
// buffer transfers enqueued on the same Queue execute strictly in program
// order on a single worker goroutine, mirroring a single OpenCL in-order
// command queue. Completion callbacks of a launch's event run
// synchronously on that worker goroutine when the event completes, so a
// slow callback delays the jobs queued after it.
type Queue struct {
	name string
	jobs chan func()
	done chan struct{}
}

func newQueue(name string) *Queue {
	q := &Queue{name: name, jobs: make(chan func(), 64), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *Queue) run() {
	for job := range q.jobs {
		job()
	}
	close(q.done)
}

func (q *Queue) enqueue(job func()) {
	q.jobs <- job
}

func (q *Queue) close() {
	close(q.jobs)
	<-q.done
}

// Context is the accelerator facade: it owns the queues, the compile
// cache, and the allocated buffers of one logical device.
type Context struct {
	log *slog.Logger

	mu       sync.Mutex
	queues   map[string]*Queue
	programs map[programKey]*Program

	memLimit   uint64
	allocated  uint64
	closedOnce sync.Once
}

// NewContext creates an accelerator context. memLimit of zero means no
// simulated device-memory ceiling (AllocBuffer never fails with
// ErrOutOfMemory).
func NewContext(log *slog.Logger, memLimit uint64) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		log:      log,
		queues:   make(map[string]*Queue),
		programs: make(map[programKey]*Program),
		memLimit: memLimit,
	}
}

// Queue returns the named command queue, creating it on first use.
func (c *Context) Queue(name string) *Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[name]
	if !ok {
		q = newQueue(name)
		c.queues[name] = q
	}
	return q
}

// Compile resolves (source, flags, entryPoint) through the compile cache,
// dispatching to the Go implementation registered for entryPoint on a
// cache miss. A missing implementation is an ErrAcceleratorError, the
// facade's equivalent of a device compiler failure.
func (c *Context) Compile(source, flags, entryPoint string) (*Program, error) {
	key := programKey{source: source, flags: flags, entryPoint: entryPoint}

	c.mu.Lock()
	if p, ok := c.programs[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	fn, ok := lookupKernel(entryPoint)
	if !ok {
		return nil, fmt.Errorf("compile %s: %w: no implementation registered for entry point", entryPoint, calcerr.ErrAcceleratorError)
	}

	p := &Program{id: uuid.New(), EntryPoint: entryPoint, Flags: flags, fn: fn}

	c.mu.Lock()
	if existing, ok := c.programs[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.programs[key] = p
	c.mu.Unlock()

	c.log.Debug("kernel compiled", "entry_point", entryPoint, "flags", flags)
	return p, nil
}

// AllocBuffer allocates a new device buffer of size bytes.
func (c *Context) AllocBuffer(size uint64) (*Buffer, error) {
	if c.memLimit > 0 {
		for {
			cur := atomic.LoadUint64(&c.allocated)
			if cur+size > c.memLimit {
				return nil, fmt.Errorf("allocate %d bytes: %w", size, calcerr.ErrOutOfMemory)
			}
			if atomic.CompareAndSwapUint64(&c.allocated, cur, cur+size) {
				break
			}
		}
	}
	return newBuffer(size), nil
}

// FreeBuffer releases a buffer previously obtained from AllocBuffer.
func (c *Context) FreeBuffer(b *Buffer) {
	if b == nil || b.Size() == 0 {
		return
	}
	if c.memLimit > 0 {
		atomic.AddUint64(&c.allocated, ^uint64(b.Size()-1))
	}
}

// EnqueueKernel enqueues a kernel launch on q, waiting on waitList first.
// It returns immediately with an event that completes once the launch's
// Go implementation has run on the queue's worker goroutine.
func (c *Context) EnqueueKernel(q *Queue, prog *Program, workSize int, args []KernelArg, waitList []*Event) *Event {
	out := NewEvent()
	q.enqueue(func() {
		if err := WaitAll(waitList); err != nil {
			out.Fail(fmt.Errorf("%s: upstream dependency failed: %w", prog.EntryPoint, err))
			return
		}
		out.Run()
		if err := prog.fn(prog, workSize, args); err != nil {
			out.Fail(fmt.Errorf("kernel %s: %w: %v", prog.EntryPoint, calcerr.ErrAcceleratorError, err))
			return
		}
		out.Complete()
	})
	return out
}

// EnqueueRead copies size bytes from buf starting at offset into dst. If
// blocking, it waits for completion before returning; otherwise it
// returns the event immediately.
func (c *Context) EnqueueRead(q *Queue, buf *Buffer, offset uint64, dst []byte, waitList []*Event, blocking bool) (*Event, error) {
	out := NewEvent()
	q.enqueue(func() {
		if err := WaitAll(waitList); err != nil {
			out.Fail(err)
			return
		}
		out.Run()
		buf.ReadBytes(offset, dst)
		out.Complete()
	})
	if blocking {
		if err := out.Wait(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// EnqueueWrite copies src into buf starting at offset.
func (c *Context) EnqueueWrite(q *Queue, buf *Buffer, offset uint64, src []byte, waitList []*Event, blocking bool) (*Event, error) {
	out := NewEvent()
	q.enqueue(func() {
		if err := WaitAll(waitList); err != nil {
			out.Fail(err)
			return
		}
		out.Run()
		buf.WriteBytes(offset, src)
		out.Complete()
	})
	if blocking {
		if err := out.Wait(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Close drains and tears down every queue. Any events already in flight
// are allowed to finish so no callback is orphaned.
func (c *Context) Close() {
	c.closedOnce.Do(func() {
		c.mu.Lock()
		queues := make([]*Queue, 0, len(c.queues))
		for _, q := range c.queues {
			queues = append(queues, q)
		}
		c.mu.Unlock()
		for _, q := range queues {
			q.close()
		}
	})
}
