package cache

import "testing"

func TestLRUCacheBasic(t *testing.T) {
	c, err := NewLRU[string, int](2)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	c.Add("a", 1)
	c.Add("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	c.Add("c", 3) // evicts b (least recently used after the Get("a") above)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestMapCacheNoEviction(t *testing.T) {
	c := NewMapCache[string, int]()
	for i := 0; i < 100; i++ {
		c.Add(Key("k", string(rune('a'+i%26))), i)
	}
	if c.Len() == 0 {
		t.Fatalf("expected entries to persist with no eviction")
	}
	c.Remove(Key("k", "a"))
	if _, ok := c.Get(Key("k", "a")); ok {
		t.Fatalf("expected removed key to be gone")
	}
}

func TestKeyDeterministicAndDistinguishesParts(t *testing.T) {
	a := Key("tenant1", "repo1", "main", "query text")
	b := Key("tenant1", "repo1", "main", "query text")
	if a != b {
		t.Fatalf("expected identical keys for identical parts")
	}
	c := Key("tenant1", "repo1", "dev", "query text")
	if a == c {
		t.Fatalf("expected different keys when a part changes")
	}
}
