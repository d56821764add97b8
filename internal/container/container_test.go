package container

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopTailOrdering(t *testing.T) {
	c := New[int](4)
	require.True(t, c.Push(1))
	require.True(t, c.Push(2))
	require.True(t, c.Push(3))

	v, ok := c.PopTail()
	require.True(t, ok)
	assert.Equal(t, 1, v, "oldest pushed value pops first")

	v, ok = c.PopTail()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestPushBlocksWhenFull(t *testing.T) {
	c := New[int](1)
	require.True(t, c.Push(42))

	done := make(chan bool, 1)
	go func() {
		done <- c.Push(7)
	}()

	select {
	case <-done:
		t.Fatal("Push on a full container should block")
	case <-time.After(50 * time.Millisecond):
	}

	_, _ = c.PopTail()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Push never unblocked after a slot freed")
	}
}

func TestPopTailBlocksWhenEmpty(t *testing.T) {
	c := New[int](2)
	done := make(chan int, 1)
	go func() {
		v, ok := c.PopTail()
		if ok {
			done <- v
		}
	}()

	select {
	case <-done:
		t.Fatal("PopTail on an empty container should block")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, c.Push(9))
	select {
	case v := <-done:
		assert.Equal(t, 9, v)
	case <-time.After(time.Second):
		t.Fatal("PopTail never unblocked after a push")
	}
}

func TestRemoveValue(t *testing.T) {
	c := New[int](4)
	c.Push(1)
	c.Push(2)
	c.Push(3)

	removed := c.RemoveValue(func(v int) bool { return v == 2 })
	assert.True(t, removed)
	assert.Equal(t, 2, c.Len())

	removed = c.RemoveValue(func(v int) bool { return v == 99 })
	assert.False(t, removed)
}

func TestCloseUnblocksWaiters(t *testing.T) {
	c := New[int](1)
	empty := New[int](1)
	var wg sync.WaitGroup
	wg.Add(2)
	var popOK, pushOK bool

	go func() {
		defer wg.Done()
		_, popOK = empty.PopTail()
	}()

	c.Push(1)
	go func() {
		defer wg.Done()
		pushOK = c.Push(2)
	}()

	time.Sleep(20 * time.Millisecond)
	empty.Close()
	c.Close()
	wg.Wait()

	assert.False(t, pushOK, "Push should report closed instead of blocking forever")
	_ = popOK
}

func TestInsertAndRemoveHandle(t *testing.T) {
	c := New[int](4)
	c.Push(10)
	h, ok := c.Insert(20)
	require.True(t, ok)
	c.Push(30)

	removed := c.RemoveHandle(h)
	assert.True(t, removed)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []int{30, 10}, c.Snapshot())

	assert.False(t, c.RemoveHandle(h), "removing the same handle twice must fail")
}

func TestRemoveHandleRejectsStaleHandleAfterSlotReuse(t *testing.T) {
	c := New[int](1)
	h, ok := c.Insert(1)
	require.True(t, ok)
	require.True(t, c.RemoveHandle(h))

	// The freed slot gets reused by the next Insert; the old handle must
	// not be able to reach into whatever now occupies it.
	_, ok = c.Insert(2)
	require.True(t, ok)
	assert.False(t, c.RemoveHandle(h), "a stale handle into a reused slot must be rejected")
	assert.Equal(t, 1, c.Len())
}

func TestMutateFindsAndEditsInPlace(t *testing.T) {
	type item struct {
		id    int
		count int
	}
	c := New[*item](4)
	c.Push(&item{id: 1, count: 0})
	c.Push(&item{id: 2, count: 0})

	found := c.Mutate(func(v *item) bool { return v.id == 2 }, func(v *item) { v.count++ })
	assert.True(t, found)

	var got int
	c.ForEach(func(v *item) bool {
		if v.id == 2 {
			got = v.count
		}
		return true
	})
	assert.Equal(t, 1, got)

	assert.False(t, c.Mutate(func(v *item) bool { return v.id == 99 }, func(v *item) {}))
}

func TestSnapshotIsHeadToTailCopy(t *testing.T) {
	c := New[int](4)
	c.Push(1)
	c.Push(2)
	c.Push(3)

	snap := c.Snapshot()
	assert.Equal(t, []int{3, 2, 1}, snap)
}
