package sync

import "sync/atomic"

// Outcome is the admission decision for one inbound message
type Outcome int

const (
	// Accepted: the command changed the local state
	Accepted Outcome = iota
	// RejectedSelf: the message originated in this context
	RejectedSelf
	// RejectedDuplicate: the (tabId, timestamp) pair was seen before
	RejectedDuplicate
	// RejectedStale: the message is older than the staleness window
	RejectedStale
	// RejectedOutdated: a full state lost the last-write-wins comparison
	RejectedOutdated
	// SkippedNoop: applying the command would not change the state
	SkippedNoop
	// RejectedFuture: the timestamp is ahead of the local clock by more than the window
	RejectedFuture

	outcomeCount
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedSelf:
		return "rejected_self"
	case RejectedDuplicate:
		return "rejected_duplicate"
	case RejectedStale:
		return "rejected_stale"
	case RejectedOutdated:
		return "rejected_outdated"
	case SkippedNoop:
		return "skipped_noop"
	case RejectedFuture:
		return "rejected_future"
	default:
		return "unknown"
	}
}

// Source tells which transport delivered a message
type Source int

const (
	SourcePrimary Source = iota
	SourceFallback
)

func (s Source) String() string {
	if s == SourceFallback {
		return "fallback"
	}
	return "primary"
}

// Stats counters of a coordinator
type Stats struct {
	Accepted          int64
	RejectedSelf      int64
	RejectedDuplicate int64
	RejectedStale     int64
	RejectedOutdated  int64
	RejectedFuture    int64
	SkippedNoop       int64
	Dispatched        int64
	Published         int64
	PublishErrors     int64
}

type counters struct {
	outcomes      [outcomeCount]atomic.Int64
	dispatched    atomic.Int64
	published     atomic.Int64
	publishErrors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Accepted:          c.outcomes[Accepted].Load(),
		RejectedSelf:      c.outcomes[RejectedSelf].Load(),
		RejectedDuplicate: c.outcomes[RejectedDuplicate].Load(),
		RejectedStale:     c.outcomes[RejectedStale].Load(),
		RejectedOutdated:  c.outcomes[RejectedOutdated].Load(),
		RejectedFuture:    c.outcomes[RejectedFuture].Load(),
		SkippedNoop:       c.outcomes[SkippedNoop].Load(),
		Dispatched:        c.dispatched.Load(),
		Published:         c.published.Load(),
		PublishErrors:     c.publishErrors.Load(),
	}
}
