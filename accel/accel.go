package accel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/libnxz/nxcore/config"
)

// Accelerator is the seam the real VAS/paste kernel transport would
// implement (out of scope per spec §1/§6). Submit performs one job
// synchronously: on success it fills job.Param's Out* fields and writes
// produced bytes into job.Output, and returns a Completion describing
// how the job finished.
type Accelerator interface {
	Submit(job *Job) (Completion, error)
}

// faultAddr is the one deliberate global in this module (spec §9): the
// address an out-of-band SIGSEGV handler would record and the poll loop
// observes. A real device driver writes it from a signal handler: hence
// the atomic word rather than anything requiring a lock.
var faultAddr atomic.Uintptr

// SetFaultAddress records a page-fault address for the next poll loop to
// observe, standing in for the out-of-band signal handler described in
// spec §5. Production wiring for the real transport is out of scope;
// tests use this to exercise the TRANSLATION retry path.
func SetFaultAddress(addr uintptr) {
	faultAddr.Store(addr)
}

func takeFaultAddress() uintptr {
	return faultAddr.Swap(0)
}

// Handle is a reference-counted accelerator device handle. Spec §5: "a
// device handle carries a paste address and a file descriptor. Multiple
// streams may share one handle... paste is serialized by the hardware
// window itself." We model that hardware serialization with a weighted
// semaphore of size 1 rather than inventing a new primitive, since the
// window only ever admits one in-flight command.
type Handle struct {
	mu    sync.Mutex
	refs  int
	accel Accelerator
	sem   *semaphore.Weighted
	cfg   *config.Config
}

// NewHandle opens a device handle backed by accel, with an initial
// reference count of 1. Callers share it across streams via Acquire/Release.
func NewHandle(accel Accelerator, cfg *config.Config) *Handle {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handle{
		refs:  1,
		accel: accel,
		sem:   semaphore.NewWeighted(1),
		cfg:   cfg,
	}
}

// Acquire increments the handle's reference count, for a new stream that
// wants to share this device handle.
func (h *Handle) Acquire() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs++
	return h
}

// Release decrements the handle's reference count. Spec §9: "the handle
// does not reference streams" — Release never touches stream state,
// only its own bookkeeping.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
}

// Refs reports the current reference count, for tests and diagnostics.
func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// ErrTimeout is returned when the poll loop exceeds its configured
// timeout waiting for a job to complete.
var ErrTimeout = fmt.Errorf("accel: timed out waiting for job completion")

// ErrHistlen is returned when the accelerator reports an invalid
// history length; the stream that receives it must transition to a
// permanently failed state (spec §3 "a stream in DATA_ERROR is
// permanently failed").
var ErrHistlen = fmt.Errorf("accel: invalid history length")

// RunJob submits job, retrying on TRANSLATION and on paste rejection (a
// Submit error whose completion code is not CompletionFatal), bounded by
// cfg.PageFaultRetries / cfg.PasteRetries and cfg.PollTimeout, or by
// cfg.PollMax poll iterations when it is set (NX_GZIP_CSB_POLL_MAX). A
// TRANSLATION retry drains the recorded fault address and resubmits the
// same job unchanged; RunJob neither touches that address nor shrinks the
// job's input. It serializes submission through
// the handle's semaphore, modeling the single shared hardware window.
//
// RunJob does not itself shrink the job's input on TARGET_SPACE; that
// decision belongs to the caller (the deflate/inflate engine), which
// knows how to re-slice its DDL and retry at the job-construction level.
// RunJob returns CompletionTargetSpace to the caller unmodified.
func (h *Handle) RunJob(ctx context.Context, job *Job) (Completion, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return Completion{}, err
	}
	defer h.sem.Release(1)

	if err := h.touchJob(job); err != nil {
		return Completion{}, err
	}

	deadline := time.Now().Add(h.cfg.PollTimeout)
	pasteRetries := 0
	pgfaultRetries := 0
	polls := 0

	for {
		polls++
		if h.cfg.PollMax > 0 && polls > h.cfg.PollMax {
			h.trace(config.EventTimeout, job, polls, "poll max exceeded")
			return Completion{}, ErrTimeout
		}
		h.trace(config.EventSubmit, job, 0, "")

		comp, err := h.submitOnce(job)
		if err != nil && comp.Code == CompletionFatal {
			return comp, err
		}
		if err != nil {
			// The submission primitive itself was rejected (paste
			// backoff); spec §4.3: short busy-wait then micro-sleep,
			// bounded by cfg.PasteRetries.
			pasteRetries++
			h.trace(config.EventRetryPaste, job, pasteRetries, err.Error())
			if pasteRetries > h.cfg.PasteRetries {
				return Completion{}, ErrTimeout
			}
			if time.Now().After(deadline) {
				h.trace(config.EventTimeout, job, pasteRetries, "paste backoff")
				return Completion{}, ErrTimeout
			}
			backoff(pasteRetries)
			continue
		}

		switch comp.Code {
		case CompletionTranslation:
			pgfaultRetries++
			h.trace(config.EventRetryPageFault, job, pgfaultRetries, "")
			if pgfaultRetries > h.cfg.PageFaultRetries {
				return comp, ErrTimeout
			}
			if time.Now().After(deadline) {
				h.trace(config.EventTimeout, job, pgfaultRetries, "page fault retry")
				return comp, ErrTimeout
			}
			// Nothing touches the faulting address here; the recorded
			// address is drained and the same job is resubmitted.
			_ = takeFaultAddress()
			continue
		case CompletionHistlenError:
			return comp, ErrHistlen
		default:
			return comp, nil
		}
	}
}

func (h *Handle) submitOnce(job *Job) (Completion, error) {
	return h.accel.Submit(job)
}

// touchJob faults in the pages a submit is about to hand the accelerator,
// spec §5's page-fault policy: "a read-touch (and write-touch for output
// pages) across the covered range, one byte per page". The input and
// output descriptor lists are independent, so the two touches run
// concurrently via errgroup rather than sequentially.
func (h *Handle) touchJob(job *Job) error {
	var g errgroup.Group
	if job.Input != nil {
		g.Go(func() error {
			job.Input.Touch(0, h.cfg.PageSize, false)
			return nil
		})
	}
	if job.Output != nil {
		g.Go(func() error {
			job.Output.Touch(0, h.cfg.PageSize, true)
			return nil
		})
	}
	return g.Wait()
}

func (h *Handle) trace(kind config.EventKind, job *Job, attempt int, detail string) {
	if h.cfg.Trace == nil {
		return
	}
	h.cfg.Trace(config.Event{
		Kind:     kind,
		Function: job.Function.String(),
		Attempt:  attempt,
		Detail:   detail,
	})
}

// backoff implements spec §5's paste-retry suspension point: a short
// busy-wait for the first handful of attempts, then micro-sleeps.
func backoff(attempt int) {
	if attempt < 10 {
		return
	}
	time.Sleep(time.Microsecond)
}
