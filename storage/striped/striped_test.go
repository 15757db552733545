package striped

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestNew_RejectsUndersizedShardBudget(t *testing.T) {
	t.Parallel()

	if _, err := New(8, 4<<20, nil); err != ErrShardBudgetTooSmall {
		t.Fatalf("want ErrShardBudgetTooSmall, got %v", err)
	}
}

func TestCache_PutGetDelete(t *testing.T) {
	t.Parallel()

	c, err := New(4, 8<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !c.Put([]byte("k"), []byte("v")) {
		t.Fatal("Put must be admitted")
	}
	if v, ok := c.Get([]byte("k")); !ok || string(v) != "v" {
		t.Fatalf("Get want v, got %q ok=%v", v, ok)
	}
	if !c.Delete([]byte("k")) {
		t.Fatal("Delete must report the key was present")
	}
	if _, ok := c.Get([]byte("k")); ok {
		t.Fatal("Get after Delete must miss")
	}
}

// TestCache_ConcurrentDistinctKeys exercises concurrent writers, one per
// distinct key; with 64 keys over 8 shards many writers share a shard.
// Races are reported only under -race.
func TestCache_ConcurrentDistinctKeys(t *testing.T) {
	c, err := New(8, 16<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		i := i
		g.Go(func() error {
			key := []byte(fmt.Sprintf("key-%03d", i))
			for j := 0; j < 100; j++ {
				c.Put(key, []byte("v"))
				c.Get(key)
			}
			c.Delete(key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestCache_LenAggregatesAcrossShards(t *testing.T) {
	t.Parallel()

	c, err := New(4, 8<<20, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 20; i++ {
		c.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}
	if c.Len() != 20 {
		t.Fatalf("want 20 resident entries, got %d", c.Len())
	}
}
