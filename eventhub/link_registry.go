package eventhub

import (
	"context"
	"sync"
)

// linkRegistry tracks every link opened through a scope together with its
// authorization refresher. A nil refresher is stored explicitly for links
// whose authorization is not renewed, so their presence can still be
// observed. Removal is idempotent and driven by each link's close
// notification rather than polling.
type linkRegistry struct {
	entries  sync.Map // Link -> *authorizationRefresher (possibly nil)
	watchers sync.WaitGroup
}

func newLinkRegistry() *linkRegistry {
	return &linkRegistry{}
}

func (registry *linkRegistry) register(link Link, refresher *authorizationRefresher) {
	registry.entries.Store(link, refresher)
}

// remove unregisters the link and cancels its refresher. Returns false when
// the link was already removed, so concurrent close notification and
// disposal settle on exactly one removal.
func (registry *linkRegistry) remove(link Link) bool {
	value, existed := registry.entries.LoadAndDelete(link)
	if !existed {
		return false
	}
	if refresher, hasRefresher := value.(*authorizationRefresher); hasRefresher {
		refresher.cancel()
	}
	return true
}

// refresherFor reports the refresher registered for the link and whether the
// link is registered at all.
func (registry *linkRegistry) refresherFor(link Link) (*authorizationRefresher, bool) {
	value, existed := registry.entries.Load(link)
	if !existed {
		return nil, false
	}
	refresher, _ := value.(*authorizationRefresher)
	return refresher, true
}

func (registry *linkRegistry) size() int {
	count := 0
	registry.entries.Range(func(interface{}, interface{}) bool {
		count++
		return true
	})
	return count
}

// watch unregisters the link as soon as its close notification fires. The
// watcher also exits on scope shutdown, where closeAll takes over removal.
func (registry *linkRegistry) watch(shutdown <-chan struct{}, link Link) {
	registry.watchers.Add(1)
	go func() {
		defer registry.watchers.Done()
		select {
		case <-link.Done():
			registry.remove(link)
		case <-shutdown:
		}
	}()
}

// closeAll snapshots the registry, cancels every refresher, closes every
// link, and empties the map. Links already removed by their own close
// notification are skipped; nothing here panics on entries that are gone.
func (registry *linkRegistry) closeAll(ctx context.Context) {
	registry.entries.Range(func(key, _ interface{}) bool {
		link := key.(Link)
		if registry.remove(link) {
			_ = link.Close(ctx)
		}
		return true
	})
}

// wait blocks until every close watcher has exited.
func (registry *linkRegistry) wait() {
	registry.watchers.Wait()
}
