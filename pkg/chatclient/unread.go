package chatclient

import "carelink/internal/domain/entity"

// UnreadTracker keeps per-conversation unread counts and their total. The
// total is maintained incrementally and rebuilt by Recompute.
type UnreadTracker struct {
	counts map[string]int
	total  int
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: make(map[string]int)}
}

func (u *UnreadTracker) Increment(conversationID string) {
	u.counts[conversationID]++
	u.total++
}

func (u *UnreadTracker) Set(conversationID string, n int) {
	if n < 0 {
		n = 0
	}
	u.total += n - u.counts[conversationID]
	if n == 0 {
		delete(u.counts, conversationID)
		return
	}
	u.counts[conversationID] = n
}

// Clear removes exactly conversationID's contribution. Clearing twice is a
// no-op.
func (u *UnreadTracker) Clear(conversationID string) {
	u.Set(conversationID, 0)
}

// Recompute replaces every count with the server's summary.
func (u *UnreadTracker) Recompute(summary *entity.UnreadSummary) {
	u.counts = make(map[string]int)
	u.total = 0
	if summary == nil {
		return
	}
	for conversationID, n := range summary.ByConversation {
		u.Set(conversationID, n)
	}
}

func (u *UnreadTracker) Count(conversationID string) int {
	return u.counts[conversationID]
}

func (u *UnreadTracker) Total() int {
	return u.total
}
