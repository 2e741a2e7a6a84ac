package transfer

import "testing"

func TestSpeedCachePrune(t *testing.T) {
	c := NewSpeedCache()
	c.Set("a", 100)
	c.Set("b", 200)
	c.Set("c", 300)

	removed := c.Prune(map[string]struct{}{"b": {}})
	if removed != 2 {
		t.Errorf("expected 2 entries removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", c.Len())
	}
	if v, ok := c.Get("b"); !ok || v != 200 {
		t.Errorf("expected b=200 to survive, got %v %v", v, ok)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("a should have been pruned")
	}
}

func TestSpeedCacheCopy(t *testing.T) {
	c := NewSpeedCache()
	c.Set("a", 1)

	dup := c.Copy()
	dup["a"] = 42

	if v, _ := c.Get("a"); v != 1 {
		t.Errorf("Copy should be independent, cache now has %v", v)
	}
}

func TestPendingCancels(t *testing.T) {
	p := NewPendingCancels()
	p.Add("a")
	p.Add("b")
	p.Add("a")

	if p.Len() != 2 {
		t.Fatalf("expected 2 pending, got %d", p.Len())
	}
	if !p.Contains("a") {
		t.Error("a should be pending")
	}

	p.Remove("a")
	p.Remove("never-added")
	if p.Contains("a") {
		t.Error("a should no longer be pending")
	}

	if removed := p.Prune(map[string]struct{}{}); removed != 1 {
		t.Errorf("expected 1 pruned, got %d", removed)
	}
	if p.Len() != 0 {
		t.Errorf("expected empty set, got %v", p.Keys())
	}
}
