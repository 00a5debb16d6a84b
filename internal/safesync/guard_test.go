package safesync

import (
	"errors"
	"sync"
	"testing"
)

func TestDoMutatesValue(t *testing.T) {
	g := NewGuard("counter", 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Do(func(v *int) { *v++ }); err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	var got int
	_ = g.Do(func(v *int) { got = *v })
	if got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
}

func TestPanicPoisonsAndNextCallerRecovers(t *testing.T) {
	mon := NewMonitor(nil)
	g := NewGuard("colors", map[string]int{"a": 1, "b": 2}, mon)

	err := g.Do(func(m *map[string]int) {
		(*m)["a"] = 99
		panic("boom")
	})
	if !errors.Is(err, ErrPoisoned) {
		t.Fatalf("Do() error = %v, want ErrPoisoned", err)
	}
	if !g.Poisoned() {
		t.Fatal("guard not marked poisoned after panic")
	}

	var b int
	if err := g.Do(func(m *map[string]int) { b = (*m)["b"] }); err != nil {
		t.Fatalf("Do() after poisoning error = %v, want nil", err)
	}
	if b != 2 {
		t.Errorf("unrelated value = %d, want 2", b)
	}
	if g.Poisoned() {
		t.Error("guard still poisoned after recovery")
	}

	s := mon.Stats()
	if s.Recoveries != 1 {
		t.Errorf("Recoveries = %d, want 1", s.Recoveries)
	}
	if s.LastRecovery == nil {
		t.Error("LastRecovery not set")
	}
}

func TestDoWithRecoveryNormalizes(t *testing.T) {
	g := NewGuard("list", []int{1, 2, 3}, nil)

	_ = g.Do(func(v *[]int) {
		*v = append(*v, -1)
		panic("half-written")
	})

	var normalized bool
	var got []int
	err := g.DoWithRecovery(
		func(v *[]int) {
			normalized = true
			*v = nil
		},
		func(v *[]int) { got = *v },
	)
	if err != nil {
		t.Fatalf("DoWithRecovery() error = %v", err)
	}
	if !normalized {
		t.Error("normalize did not run")
	}
	if got != nil {
		t.Errorf("value = %v, want reset to nil", got)
	}

	normalized = false
	_ = g.DoWithRecovery(func(*[]int) { normalized = true }, func(*[]int) {})
	if normalized {
		t.Error("normalize ran on a healthy guard")
	}
}

func TestTryDo(t *testing.T) {
	g := NewGuard("metrics", 0, nil)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Do(func(*int) {
			close(held)
			<-release
		})
	}()
	<-held

	ran, err := g.TryDo(func(v *int) { *v = 1 })
	if ran || err != nil {
		t.Errorf("TryDo() while held = (%v, %v), want (false, nil)", ran, err)
	}

	close(release)
	<-done

	ran, err = g.TryDo(func(v *int) { *v = 2 })
	if !ran || err != nil {
		t.Errorf("TryDo() when free = (%v, %v), want (true, nil)", ran, err)
	}
}

func TestMonitorSharedAcrossGuards(t *testing.T) {
	mon := NewMonitor(nil)
	a := NewGuard("a", 0, mon)
	b := NewGuard("b", "", mon)

	_ = a.Do(func(*int) { panic("a") })
	_ = b.Do(func(*string) { panic("b") })
	_ = a.Do(func(*int) {})
	_ = b.Do(func(*string) {})

	if got := mon.Stats().Recoveries; got != 2 {
		t.Errorf("Recoveries = %d, want 2", got)
	}
}

func TestTryDoWithRecoveryNormalizes(t *testing.T) {
	g := NewGuard("devices", []int{1, -1, 2}, nil)
	_ = g.Do(func(*[]int) { panic("boom") })

	var seen []int
	ran, err := g.TryDoWithRecovery(func(v *[]int) {
		kept := (*v)[:0]
		for _, n := range *v {
			if n >= 0 {
				kept = append(kept, n)
			}
		}
		*v = kept
	}, func(v *[]int) { seen = append(seen, *v...) })
	if !ran || err != nil {
		t.Fatalf("TryDoWithRecovery() = (%v, %v), want (true, nil)", ran, err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("value after recovery = %v, want [1 2]", seen)
	}
	if g.Poisoned() {
		t.Error("guard still poisoned after recovery")
	}
}
