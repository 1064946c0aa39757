package num

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dims ...int) Array
	NewArrayLike(a Array) Array
}

// Initialise new CPU device.
func NewDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Execute one or more functions in order
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Number of worker goroutines used by the parallel kernels
	Threads() int
	// Enable profiling
	Profiling(on bool)
	Profile() string
}

// Function is a single kernel call which is executed by a Queue.
type Function struct {
	name string
	call func(threads int)
}

func newFunction(name string, call func(threads int)) Function {
	return Function{name: name, call: call}
}

// Name of the kernel
func (f Function) Name() string { return f.name }

type cpuDevice struct{}

type cpuQueue struct {
	cpuDevice
	threads int
	*profile
}

func (d cpuDevice) NewQueue(threads int) Queue {
	if threads < 1 {
		threads = 1
	}
	return &cpuQueue{
		cpuDevice: d,
		threads:   threads,
		profile:   newProfile(),
	}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) Threads() int { return q.threads }

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, f := range args {
		if q.profile.enabled {
			start := time.Now()
			f.call(q.threads)
			q.profile.add(f.name, time.Since(start))
		} else {
			f.call(q.threads)
		}
	}
	return q
}

// Kernels run synchronously on the CPU, so there is never anything to wait for.
func (q *cpuQueue) Finish() {}

func (q *cpuQueue) Shutdown() {}

// split n items into contiguous chunks and run each chunk on its own goroutine
func parallel(n, threads int, fn func(worker, start, end int)) {
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		fn(0, 0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + threads - 1) / threads
	for w := 0; w < threads; w++ {
		start, end := w*chunk, (w+1)*chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			fn(w, start, end)
		}(w, start, end)
	}
	wg.Wait()
}

// profiling functions
type profile struct {
	sync.Mutex
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.enabled = on
}

func (p *profile) add(name string, elapsed time.Duration) {
	p.Lock()
	defer p.Unlock()
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += float64(elapsed) / float64(time.Millisecond)
	p.prof[name] = r
}

// Profile returns a table of kernel calls sorted by total execution time.
func (p *profile) Profile() string {
	p.Lock()
	defer p.Unlock()
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	lines := []string{"== Profile =="}
	totalCalls := int64(0)
	totalMsec := 0.0
	for _, r := range list {
		lines = append(lines, fmt.Sprintf("%-25s %8d calls %10.1f msec", r.name, r.calls, r.msec))
		totalCalls += r.calls
		totalMsec += r.msec
	}
	lines = append(lines, fmt.Sprintf("%-25s %8d calls %10.1f msec", "TOTAL", totalCalls, totalMsec))
	return strings.Join(lines, "\n")
}
