package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carelink/internal/domain/entity"
)

func TestUnreadTracker_ClearIsExact(t *testing.T) {
	u := NewUnreadTracker()
	u.Increment("a")
	u.Increment("a")
	u.Increment("b")
	assert.Equal(t, 3, u.Total())

	u.Clear("a")
	assert.Equal(t, 1, u.Total())
	u.Clear("a")
	assert.Equal(t, 1, u.Total())
	assert.Equal(t, 0, u.Count("a"))
	assert.Equal(t, 1, u.Count("b"))
}

func TestUnreadTracker_Recompute(t *testing.T) {
	u := NewUnreadTracker()
	u.Increment("stale")

	u.Recompute(&entity.UnreadSummary{
		Total:          5,
		ByConversation: map[string]int{"a": 2, "b": 3, "c": 0},
	})
	assert.Equal(t, 5, u.Total())
	assert.Equal(t, 0, u.Count("stale"))

	u.Set("b", 1)
	assert.Equal(t, 3, u.Total())

	u.Recompute(nil)
	assert.Equal(t, 0, u.Total())
}
