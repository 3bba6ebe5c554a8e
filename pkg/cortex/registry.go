package cortex

import (
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Kind is the kernel resource type behind a Resource.
type Kind string

const (
	KindSegment   Kind = "segment"
	KindSemaphore Kind = "semaphore"
)

// Resource describes one kernel resource known to this process.
type Resource struct {
	Kind  Kind
	Key   Key
	ID    int
	Owner bool
	Since time.Time
	// Err is set on leaked resources: the teardown failure that stranded it.
	Err error
}

var (
	serial atomic.Uint64
	live   = cmap.New[Resource]()
	leaked = cmap.New[Resource]()
)

func track(kind Kind, key Key, id int, owner bool) string {
	token := strconv.FormatUint(serial.Add(1), 10)
	live.Set(token, Resource{Kind: kind, Key: key, ID: id, Owner: owner, Since: time.Now()})
	return token
}

func setOwner(token string, owner bool) {
	if r, ok := live.Get(token); ok {
		r.Owner = owner
		live.Set(token, r)
	}
}

func untrack(token string) {
	live.Remove(token)
}

func markLeaked(token string, err error) {
	r, ok := live.Pop(token)
	if !ok {
		return
	}
	r.Err = err
	leaked.Set(token, r)
}

func recordLeak(kind Kind, key Key, id int, err error) {
	token := track(kind, key, id, false)
	markLeaked(token, err)
}

// LiveResources lists the segments and semaphore sets currently held by handles in this process.
func LiveResources() []Resource {
	return snapshot(live)
}

// LeakedResources lists resources whose teardown failed. They stay allocated in the kernel
// until removed by hand.
func LeakedResources() []Resource {
	return snapshot(leaked)
}

// ForgetLeaked clears the leak record for kind/key, e.g. after manual cleanup.
func ForgetLeaked(kind Kind, key Key) {
	for token, r := range leaked.Items() {
		if r.Kind == kind && r.Key == key {
			leaked.Remove(token)
		}
	}
}

func snapshot(m cmap.ConcurrentMap[string, Resource]) []Resource {
	out := make([]Resource, 0, m.Count())
	for _, r := range m.Items() {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}
