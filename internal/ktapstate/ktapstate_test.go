package ktapstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRecursionContextBitmap(t *testing.T) {
	g := New()

	if rc := g.GetRecursionContext(0, CtxIRQ); rc != int(CtxIRQ) {
		t.Fatalf("first get: got %d, want %d", rc, CtxIRQ)
	}
	if rc := g.GetRecursionContext(0, CtxIRQ); rc != -1 {
		t.Fatalf("re-entrant get: got %d, want -1", rc)
	}
	if rc := g.GetRecursionContext(0, CtxNMI); rc != int(CtxNMI) {
		t.Fatalf("different rc on same cpu: got %d, want %d", rc, CtxNMI)
	}
	if rc := g.GetRecursionContext(1, CtxIRQ); rc != int(CtxIRQ) {
		t.Fatalf("same rc on different cpu: got %d, want %d", rc, CtxIRQ)
	}

	g.PutRecursionContext(0, CtxIRQ)
	if rc := g.GetRecursionContext(0, CtxIRQ); rc != int(CtxIRQ) {
		t.Fatalf("get after put: got %d, want %d", rc, CtxIRQ)
	}
}

func TestNewWorkerThreadMemoizes(t *testing.T) {
	g := New()
	th1 := g.NewWorkerThread(0, CtxTASK, nil)
	th2 := g.NewWorkerThread(0, CtxTASK, nil)
	if th1 != th2 {
		t.Fatal("expected the same thread for the same (cpu, rc)")
	}
	th3 := g.NewWorkerThread(1, CtxTASK, nil)
	if th1 == th3 {
		t.Fatal("expected distinct threads for distinct cpus")
	}

	g.ExitWorkerThread(0, CtxTASK)
	th4 := g.NewWorkerThread(0, CtxTASK, nil)
	if th4 == th1 {
		t.Fatal("expected a fresh thread after ExitWorkerThread")
	}
}

func TestRegisterOnceDedups(t *testing.T) {
	g := New()
	var calls int32
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = g.RegisterOnce("sys_open", func() error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one registration to run, got %d", calls)
	}
}

func TestRegisterOnceDistinctNames(t *testing.T) {
	g := New()
	var calls int32
	run := func(name string) error {
		return g.RegisterOnce(name, func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	if err := run("sys_open"); err != nil {
		t.Fatal(err)
	}
	if err := run("sys_close"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected one registration per distinct name, got %d", calls)
	}
}

func TestRunPerCPUPropagatesError(t *testing.T) {
	g := New()
	boom := errors.New("boom")
	err := g.RunPerCPU(context.Background(), 4, func(ctx context.Context, cpu int) error {
		if cpu == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

func TestRunPerCPUAllSucceed(t *testing.T) {
	g := New()
	var seen sync.Map
	err := g.RunPerCPU(context.Background(), 4, func(ctx context.Context, cpu int) error {
		seen.Store(cpu, true)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for cpu := 0; cpu < 4; cpu++ {
		if _, ok := seen.Load(cpu); !ok {
			t.Errorf("cpu %d never ran", cpu)
		}
	}
}

func TestStopFlag(t *testing.T) {
	g := New()
	if g.Stop() {
		t.Fatal("expected stop to start false")
	}
	g.SetStop()
	if !g.Stop() {
		t.Fatal("expected stop to be true after SetStop")
	}
}

func TestNewAssignsSessionID(t *testing.T) {
	g1 := New()
	g2 := New()
	if g1.SessionID == g2.SessionID {
		t.Fatal("expected distinct session ids across Global instances")
	}
}
