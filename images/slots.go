package images

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

var ErrRegistryStopped = errors.New("can't request loads after Shutdown call")

// SlotID identifies a consumer of images, for example, a row of a list. A slot owns at
// most one in-flight load at a time.
type SlotID string

// NewSlotID returns a unique slot id.
func NewSlotID() SlotID {
	return SlotID(uuid.NewString())
}

// RowSlot returns a slot id for a list row. Rows are reused for different recipes,
// so are the slots.
func RowSlot(row int) SlotID {
	return SlotID("row-" + strconv.Itoa(row))
}

type Result struct {
	URL   string
	Image *recipebox.Image
	Err   error
}

// DeliverFn is called with the result of the latest load requested for a slot. It
// is called from a separate goroutine.
type DeliverFn func(Result)

type ImageLoader interface {
	LoadImage(ctx context.Context, url string) (*recipebox.Image, error)
}

// Registry runs image loads bound to slots. A new load for a slot cancels the previous
// one, and the canceled load never delivers its result. Results for the same slot are
// delivered in the order the loads were requested.
type Registry struct {
	loader ImageLoader

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	mu         sync.Mutex
	stopped    bool
	tasks      map[SlotID]*loadTask // current in-flight tasks
	delivering map[SlotID]*loadTask // tasks that are delivering their results

	wg sync.WaitGroup
}

type loadTask struct {
	url    string
	cancel context.CancelFunc

	// settled is closed when the task has delivered its result or decided not to.
	settled chan struct{}
	// prev is a task of the same slot that may be delivering its result. The task must
	// wait for it to settle before delivering its own result.
	prev *loadTask
}

func NewRegistry(loader ImageLoader) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		loader: loader,
		//
		ctx:    ctx,
		cancel: cancel,
		//
		tasks:      make(map[SlotID]*loadTask),
		delivering: make(map[SlotID]*loadTask),
	}
}

// RequestLoad starts loading of an image for the slot. If the slot already has an
// in-flight load, it is canceled.
func (r *Registry) RequestLoad(slot SlotID, url string, deliver DeliverFn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRegistryStopped
	}

	// Only a task that is delivering its result can be ahead of the new one. A superseded
	// task never delivers, so the new task inherits its predecessor instead of waiting for it.
	prev := r.delivering[slot]
	if old, ok := r.tasks[slot]; ok {
		old.cancel()
		metrics.SlotsSuperseded.Inc()

		prev = old.prev
	}

	ctx, cancel := context.WithCancel(r.ctx)
	task := &loadTask{
		url:     url,
		cancel:  cancel,
		settled: make(chan struct{}),
		prev:    prev,
	}
	r.tasks[slot] = task
	metrics.SlotsInFlight.Set(float64(len(r.tasks)))

	r.wg.Add(1)
	go r.run(ctx, slot, task, deliver)

	return nil
}

func (r *Registry) run(ctx context.Context, slot SlotID, task *loadTask, deliver DeliverFn) {
	defer r.wg.Done()
	defer close(task.settled)
	defer task.cancel()

	img, err := r.loader.LoadImage(ctx, task.url)

	if task.prev != nil {
		<-task.prev.settled
	}

	var current bool
	func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		// The predecessor has settled, later tasks don't have to wait for it.
		task.prev = nil

		if r.tasks[slot] != task {
			// Superseded or released.
			return
		}
		delete(r.tasks, slot)
		metrics.SlotsInFlight.Set(float64(len(r.tasks)))

		if ctx.Err() != nil {
			return
		}
		current = true
		r.delivering[slot] = task
	}()
	if !current {
		return
	}

	deliver(Result{
		URL:   task.url,
		Image: img,
		Err:   err,
	})

	r.mu.Lock()
	if r.delivering[slot] == task {
		delete(r.delivering, slot)
	}
	r.mu.Unlock()
}

// ReleaseSlot cancels the in-flight load of the slot, if any. It must be called when
// the consumer of the slot is destroyed.
func (r *Registry) ReleaseSlot(slot SlotID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[slot]
	if !ok {
		return
	}
	task.cancel()
	delete(r.tasks, slot)
	metrics.SlotsInFlight.Set(float64(len(r.tasks)))
}

// InFlight returns the number of slots with in-flight loads.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks)
}

// Shutdown cancels all in-flight loads and waits for them to finish with respect
// of the passed context.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
