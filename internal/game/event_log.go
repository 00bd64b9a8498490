package game

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	EventBufferSize     = 1024                   // Circular buffer size
	MaxEventsPerSec     = 5000                   // Global rate limit
	MaxEventsPerFaction = 1000                   // Per-faction rate limit per second
	BatchFlushSize      = 64                     // Events per batch write
	BatchFlushInterval  = 100 * time.Millisecond // How often to flush
)

// EventLog provides bounded, rate-limited battle event logging to a
// newline-delimited JSON file. A lossless log skips the rate limits and,
// when the buffer is full, flushes on the caller's goroutine instead of
// dropping the oldest event.
type EventLog struct {
	// Circular buffer
	buffer    [EventBufferSize]Event
	bufMu     sync.Mutex
	writeHead uint64
	readHead  uint64

	// Serializes collect+flush so batches reach the file in sequence order.
	drainMu sync.Mutex

	lossless bool

	// One faction's kill spam must not starve the other's records.
	globalLimiter   *rate.Limiter
	factionLimiters map[string]*rate.Limiter

	matchID string

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file   *os.File
	fileMu sync.Mutex

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// NewLosslessEventLog creates an event log that never drops. Used by
// headless runs that advance faster than wall time.
func NewLosslessEventLog(matchID string) *EventLog {
	el := NewEventLog(matchID)
	el.lossless = true
	return el
}

// NewEventLog creates a new bounded event log stamped with matchID.
func NewEventLog(matchID string) *EventLog {
	return &EventLog{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		factionLimiters: map[string]*rate.Limiter{
			FactionPlayer.String():  rate.NewLimiter(MaxEventsPerFaction, MaxEventsPerFaction/10),
			FactionEnemy.String():   rate.NewLimiter(MaxEventsPerFaction, MaxEventsPerFaction/10),
			FactionNeutral.String(): rate.NewLimiter(MaxEventsPerFaction, MaxEventsPerFaction/10),
		},
		matchID:  matchID,
		stopChan: make(chan struct{}),
	}
}

// Start opens filePath for append (empty path keeps events in memory only)
// and begins the async writer goroutine.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "open event log %s", filePath)
		}
		el.file = file
	}

	el.running.Store(true)
	el.writerWg.Add(1)
	go el.writerLoop()
	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.file != nil {
			el.file.Close()
		}
		el.fileMu.Unlock()
	})
}

// Emit stamps and buffers an event.
// Returns false if not running or rate limited.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}
	if !el.lossless && !el.allow(event.Faction) {
		el.droppedCount.Add(1)
		return false
	}

	event.Version = EventVersion
	event.Timestamp = time.Now().UnixNano()
	event.MatchID = el.matchID

	el.bufMu.Lock()
	for el.lossless && el.writeHead-el.readHead >= EventBufferSize {
		el.bufMu.Unlock()
		el.drain()
		el.bufMu.Lock()
	}
	el.writeHead++
	if el.writeHead-el.readHead > EventBufferSize {
		// Full: drop the oldest.
		el.readHead++
		el.droppedCount.Add(1)
	}
	event.Sequence = el.writeHead
	el.buffer[el.writeHead%EventBufferSize] = event
	el.bufMu.Unlock()

	el.totalCount.Add(1)
	return true
}

func (el *EventLog) allow(faction string) bool {
	if !el.globalLimiter.Allow() {
		return false
	}
	if lim, ok := el.factionLimiters[faction]; ok && !lim.Allow() {
		return false
	}
	return true
}

// EmitAll emits a tick's worth of battle events.
func (el *EventLog) EmitAll(events []Event) {
	for _, e := range events {
		el.Emit(e)
	}
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			el.drain()
			return
		case <-ticker.C:
			el.drain()
		}
	}
}

// drain writes everything buffered so far.
func (el *EventLog) drain() {
	el.drainMu.Lock()
	defer el.drainMu.Unlock()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		batch = el.collectBatch(batch[:0])
		if len(batch) == 0 {
			return
		}
		el.flushBatch(batch)
	}
}

// collectBatch reads up to BatchFlushSize events from the circular buffer.
func (el *EventLog) collectBatch(batch []Event) []Event {
	el.bufMu.Lock()
	defer el.bufMu.Unlock()

	for el.readHead < el.writeHead && len(batch) < BatchFlushSize {
		el.readHead++
		batch = append(batch, el.buffer[el.readHead%EventBufferSize])
	}
	return batch
}

// flushBatch writes events to disk (append-only, newline-delimited JSON)
func (el *EventLog) flushBatch(batch []Event) {
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.file == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.file.Write(append(data, '\n'))
	}
}

// GetStats returns metrics for monitoring
func (el *EventLog) GetStats() map[string]interface{} {
	el.bufMu.Lock()
	pending := el.writeHead - el.readHead
	el.bufMu.Unlock()

	return map[string]interface{}{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": pending,
		"running": el.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events
func (el *EventLog) GetDroppedCount() uint64 {
	return el.droppedCount.Load()
}

// GetTotalCount returns the total number of events accepted
func (el *EventLog) GetTotalCount() uint64 {
	return el.totalCount.Load()
}
