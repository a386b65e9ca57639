package dpmm

import (
	"testing"
	"time"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.FN = 0.1
	cfg.FP = 0.01
	cfg.Steps = 50
	cfg.Seed = 99
	return cfg
}

func TestChain_TraceLengthMatchesBudget(t *testing.T) {
	g := testMatrix(t, "110", "110", "001", "001")
	c, err := NewChain(g, smallConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop := make(chan struct{})
	c.run(stop, nil)
	if !c.Terminated() {
		t.Error("chain did not reach TERMINATED")
	}
	if got := len(c.Trace()); got != 50 {
		t.Fatalf("trace length = %d, want 50", got)
	}
}

func TestChain_StepAfterTermination(t *testing.T) {
	g := testMatrix(t, "10", "01")
	c, err := NewChain(g, smallConfig(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.run(make(chan struct{}), nil)
	if err := c.Step(); err == nil {
		t.Error("expected error stepping a terminated chain")
	}
}

func TestChain_StopSignalTerminatesEarly(t *testing.T) {
	g := testMatrix(t, "110", "110", "001", "001")
	cfg := smallConfig()
	cfg.Steps = 100000
	c, err := NewChain(g, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop := make(chan struct{})
	close(stop)
	c.run(stop, nil)
	if got := len(c.Trace()); got != 0 {
		t.Fatalf("pre-closed stop still recorded %d steps", got)
	}
	if !c.Terminated() {
		t.Error("chain did not terminate on stop signal")
	}
}

func TestChain_RuntimeBudgetOverridesSteps(t *testing.T) {
	g := testMatrix(t, "110", "110", "001", "001")
	cfg := smallConfig()
	cfg.Steps = 1 // would stop immediately if honored
	cfg.Runtime = 50 * time.Millisecond
	c, err := NewChain(g, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.run(make(chan struct{}), nil)
	if got := len(c.Trace()); got <= 1 {
		t.Fatalf("runtime budget ignored, only %d steps", got)
	}
}

func TestChain_FrozenAssignmentNeverChanges(t *testing.T) {
	g := testMatrix(t, "110", "111", "001", "011")
	cfg := smallConfig()
	cfg.FN = -1 // learned errors, so error updates happen too
	cfg.FixedAssignment = []int{0, 0, 1, 1}
	c, err := NewChain(g, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.run(make(chan struct{}), nil)
	for step, st := range c.Trace() {
		for i, want := range cfg.FixedAssignment {
			if st.Assignment[i] != want {
				t.Fatalf("step %d: cell %d moved to %d, assignment is frozen", step, i, st.Assignment[i])
			}
		}
	}
}

func TestChain_DeterministicForFixedSeed(t *testing.T) {
	g := testMatrix(t, "1100", "1100", "0011", "0011", "1?01")
	cfg := smallConfig()
	cfg.FN = -1
	cfg.Steps = 120

	run := func() []ChainState {
		c, err := NewChain(g, cfg, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		c.run(make(chan struct{}), nil)
		return c.Trace()
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("trace lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].LogProb != b[i].LogProb || a[i].Alpha != b[i].Alpha ||
			a[i].FN != b[i].FN || a[i].FP != b[i].FP {
			t.Fatalf("step %d differs between identical runs", i)
		}
		for cell := range a[i].Assignment {
			if a[i].Assignment[cell] != b[i].Assignment[cell] {
				t.Fatalf("step %d: assignments differ at cell %d", i, cell)
			}
		}
	}
}

func TestChain_DistinctSeedsPerIndex(t *testing.T) {
	if deriveChainSeed(42, 0) == deriveChainSeed(42, 1) {
		t.Error("chain indices map to the same seed")
	}
	if deriveChainSeed(42, 0) != deriveChainSeed(42, 0) {
		t.Error("seed derivation is not deterministic")
	}
}

func TestChain_InvariantsAlongRun(t *testing.T) {
	g := testMatrix(t, "11010", "11000", "00101", "00111", "?????")
	cfg := smallConfig()
	cfg.FN = -1
	cfg.Steps = 200
	c, err := NewChain(g, cfg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < cfg.Steps; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
		st := c.Trace()[len(c.Trace())-1]
		if st.Alpha <= 0 {
			t.Fatalf("step %d: alpha = %g", i, st.Alpha)
		}
		if st.FN < 0 || st.FN > 1 || st.FP < 0 || st.FP > 1 {
			t.Fatalf("step %d: error rates out of range: FN=%g FP=%g", i, st.FN, st.FP)
		}
		for _, theta := range st.Thetas {
			for _, v := range theta {
				if v < 0 || v > 1 {
					t.Fatalf("step %d: theta %g out of [0,1]", i, v)
				}
			}
		}
		if err := c.state.checkPartition(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}
