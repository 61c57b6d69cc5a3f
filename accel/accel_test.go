package accel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libnxz/nxcore/config"
	"github.com/libnxz/nxcore/ddl"
)

// scriptedAccel is a fake Accelerator that returns a scripted sequence of
// (Completion, error) results, one per Submit call, for exercising
// Handle.RunJob's retry logic without real hardware.
type scriptedAccel struct {
	results []scriptStep
	calls   int
}

type scriptStep struct {
	comp Completion
	err  error
}

func (s *scriptedAccel) Submit(job *Job) (Completion, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i].comp, s.results[i].err
}

func newJob() *Job {
	var in, out ddl.List
	in.Append([]byte("payload"))
	out.Append(make([]byte, 16))
	return &Job{Function: FuncWrap, Input: &in, Output: &out, Param: &ParamBlock{}}
}

func TestRunJobRetriesOnTranslationThenSucceeds(t *testing.T) {
	accel := &scriptedAccel{results: []scriptStep{
		{comp: Completion{Code: CompletionTranslation}},
		{comp: Completion{Code: CompletionTranslation}},
		{comp: Completion{Code: CompletionOK}},
	}}
	h := NewHandle(accel, config.Default())

	comp, err := h.RunJob(context.Background(), newJob())
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if comp.Code != CompletionOK {
		t.Fatalf("comp.Code = %v, want OK", comp.Code)
	}
	if accel.calls != 3 {
		t.Fatalf("calls = %d, want 3", accel.calls)
	}
}

func TestRunJobRetriesOnPasteRejectThenSucceeds(t *testing.T) {
	accel := &scriptedAccel{results: []scriptStep{
		{err: fmt.Errorf("paste rejected")},
		{err: fmt.Errorf("paste rejected")},
		{comp: Completion{Code: CompletionOK}},
	}}
	h := NewHandle(accel, config.Default())

	comp, err := h.RunJob(context.Background(), newJob())
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if comp.Code != CompletionOK {
		t.Fatalf("comp.Code = %v, want OK", comp.Code)
	}
}

func TestRunJobHistlenErrorIsFatal(t *testing.T) {
	accel := &scriptedAccel{results: []scriptStep{
		{comp: Completion{Code: CompletionHistlenError}},
	}}
	h := NewHandle(accel, config.Default())

	_, err := h.RunJob(context.Background(), newJob())
	if err != ErrHistlen {
		t.Fatalf("err = %v, want ErrHistlen", err)
	}
}

func TestRunJobTranslationExhaustsRetryBudget(t *testing.T) {
	accel := &scriptedAccel{results: []scriptStep{
		{comp: Completion{Code: CompletionTranslation}},
	}}
	cfg := config.Default()
	cfg.PageFaultRetries = 2
	h := NewHandle(accel, cfg)

	_, err := h.RunJob(context.Background(), newJob())
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if accel.calls != 3 { // initial + 2 retries
		t.Fatalf("calls = %d, want 3", accel.calls)
	}
}

func TestRunJobRespectsContextCancellation(t *testing.T) {
	accel := &scriptedAccel{results: []scriptStep{{comp: Completion{Code: CompletionOK}}}}
	h := NewHandle(accel, config.Default())

	// The semaphore's fast path ignores a pre-cancelled context when a
	// slot is free, so occupy the single slot first to force RunJob onto
	// the actual wait path where cancellation is observed.
	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer h.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.RunJob(ctx, newJob()); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestRunJobTouchesInputAndOutputPages(t *testing.T) {
	accel := &scriptedAccel{results: []scriptStep{{comp: Completion{Code: CompletionOK}}}}
	h := NewHandle(accel, config.Default())

	job := newJob()
	if _, err := h.RunJob(context.Background(), job); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	// Touch is a no-op observable only by absence of a panic/race on the
	// underlying buffers; this mainly guards against touchJob deadlocking
	// or racing with the errgroup fan-out.
}

func TestHandleAcquireReleaseRefcount(t *testing.T) {
	h := NewHandle(&scriptedAccel{results: []scriptStep{{comp: Completion{Code: CompletionOK}}}}, config.Default())
	h.Acquire()
	if h.Refs() != 2 {
		t.Fatalf("Refs() = %d, want 2", h.Refs())
	}
	h.Release()
	if h.Refs() != 1 {
		t.Fatalf("Refs() = %d, want 1", h.Refs())
	}
}

func TestSetFaultAddressDrainedByTranslationRetry(t *testing.T) {
	SetFaultAddress(0xdeadbeef)
	accel := &scriptedAccel{results: []scriptStep{
		{comp: Completion{Code: CompletionTranslation}},
		{comp: Completion{Code: CompletionOK}},
	}}
	h := NewHandle(accel, config.Default())
	if _, err := h.RunJob(context.Background(), newJob()); err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if addr := takeFaultAddress(); addr != 0 {
		t.Fatalf("fault address not drained, got %#x", addr)
	}
}

func TestBackoffDoesNotSleepForEarlyAttempts(t *testing.T) {
	start := time.Now()
	backoff(1)
	if time.Since(start) > 10*time.Millisecond {
		t.Fatalf("backoff(1) slept too long: %v", time.Since(start))
	}
}
