package permcache

import "testing"

func TestCache_SetAllAndAllowed(t *testing.T) {
	c := New()
	if c.Allowed("o/r", "alice") {
		t.Fatal("expected empty cache to deny everyone")
	}

	c.SetAll("o/r", []string{"alice", "bob"})
	if !c.Allowed("o/r", "alice") || !c.Allowed("o/r", "bob") {
		t.Fatal("expected alice and bob to be allowed after SetAll")
	}
	if c.Allowed("o/r", "mallory") {
		t.Fatal("expected mallory to remain denied")
	}
}

func TestCache_AddAndRemove(t *testing.T) {
	c := New()
	c.Add("o/r", "alice")
	if !c.Allowed("o/r", "alice") {
		t.Fatal("expected alice to be allowed after Add")
	}
	c.Remove("o/r", "alice")
	if c.Allowed("o/r", "alice") {
		t.Fatal("expected alice to be denied after Remove")
	}
}

func TestCache_ScopedPerRepo(t *testing.T) {
	c := New()
	c.Add("o/r1", "alice")
	if c.Allowed("o/r2", "alice") {
		t.Fatal("expected permission to be scoped per repo")
	}
}
