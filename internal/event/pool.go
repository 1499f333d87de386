package event

import (
	"sync"
	"time"
)

// Market frames are the highest-frequency events; pooling them keeps GC
// pressure off the hotpath.
//
// Usage:
//
//	ev := AcquireMarketMessage()
//	ev.Venue = domain.VenueBybit
//	ev.Raw = append(ev.Raw[:0], frame...)
//	// ... process ...
//	ReleaseMarketMessage(ev)
var marketMessagePool = sync.Pool{
	New: func() interface{} {
		return &MarketMessage{Raw: make([]byte, 0, 512)}
	},
}

// AcquireMarketMessage gets a MarketMessage from the pool.
func AcquireMarketMessage() *MarketMessage {
	return marketMessagePool.Get().(*MarketMessage)
}

// ReleaseMarketMessage resets ev and returns it to the pool.
func ReleaseMarketMessage(ev *MarketMessage) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = time.Time{}
	ev.Venue = ""
	ev.Raw = ev.Raw[:0]

	marketMessagePool.Put(ev)
}

// Warmup pre-allocates market messages to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*MarketMessage, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireMarketMessage())
	}
	for _, ev := range evs {
		ReleaseMarketMessage(ev)
	}
}
