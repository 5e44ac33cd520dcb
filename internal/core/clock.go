package core

import (
	"sync"
)

// Stamp orders writes to a single register across replicas.
// Time is a Lamport time; Replica breaks ties between concurrent writes.
type Stamp struct {
	Time    uint64 `cbor:"t"`
	Replica string `cbor:"r"`
}

// After reports whether s is ordered strictly after other.
func (s Stamp) After(other Stamp) bool {
	if s.Time != other.Time {
		return s.Time > other.Time
	}
	return s.Replica > other.Replica
}

// IsZero reports whether the stamp was never assigned.
func (s Stamp) IsZero() bool {
	return s.Time == 0 && s.Replica == ""
}

// Clock implements a Lamport logical clock owned by one replica.
// Every local write takes a fresh stamp from Tick.
type Clock struct {
	mu      sync.Mutex
	time    uint64
	replica string
}

// NewClock creates a Lamport clock for replica starting at 0
func NewClock(replica string) *Clock {
	return &Clock{replica: replica}
}

// NewClockWithTime creates a Lamport clock with an initial time.
// Used when restoring a replica from a local snapshot.
func NewClockWithTime(replica string, initialTime uint64) *Clock {
	return &Clock{replica: replica, time: initialTime}
}

// Replica returns the replica this clock stamps writes for
func (c *Clock) Replica() string {
	return c.replica
}

// Tick increments the clock and returns a stamp for a local write
func (c *Clock) Tick() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return Stamp{Time: c.time, Replica: c.replica}
}

// Update merges with a remote timestamp.
// Sets local time to max(local, remote) + 1.
func (c *Clock) Update(remoteTime uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remoteTime > c.time {
		c.time = remoteTime
	}
	c.time++
	return c.time
}

// Now returns the current clock time without incrementing
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
