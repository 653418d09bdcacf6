package storage

import (
	"fmt"
	"sync"

	"github.com/go-sif/shuffle"
)

type mapOutputKey struct {
	shuffleID int
	mapID     int
}

// MapOutputTracker is an in-memory registry of which process hosts each map output
type MapOutputTracker struct {
	lock      sync.RWMutex
	locations map[mapOutputKey]shuffle.ShuffleServerID
}

// NewMapOutputTracker creates an empty MapOutputTracker
func NewMapOutputTracker() *MapOutputTracker {
	return &MapOutputTracker{locations: make(map[mapOutputKey]shuffle.ShuffleServerID)}
}

// RegisterMapOutput records the location of committed map output
func (t *MapOutputTracker) RegisterMapOutput(shuffleID int, mapID int, loc shuffle.ShuffleServerID) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.locations[mapOutputKey{shuffleID: shuffleID, mapID: mapID}] = loc
}

// UnregisterShuffle forgets every map output of a shuffle
func (t *MapOutputTracker) UnregisterShuffle(shuffleID int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for k := range t.locations {
		if k.shuffleID == shuffleID {
			delete(t.locations, k)
		}
	}
}

// Locate returns the process hosting a block
func (t *MapOutputTracker) Locate(id shuffle.BlockID) (shuffle.ShuffleServerID, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	loc, ok := t.locations[mapOutputKey{shuffleID: id.ShuffleID, mapID: id.MapID}]
	if !ok {
		return shuffle.ShuffleServerID{}, fmt.Errorf("No location registered for %s", id)
	}
	return loc, nil
}
