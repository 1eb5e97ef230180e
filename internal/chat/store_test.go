package chat

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStore_Append_Keeps_Last_Limit_Messages_In_Order(t *testing.T) {
	req := require.New(t)
	store := NewStore(DefaultHistoryLimit)
	sender := uuid.NewString()
	now := time.Unix(1_700_000_000, 0)

	// Given an open room
	store.Open("room_1")

	// When 250 messages are posted
	const n = 250
	for i := 1; i <= n; i++ {
		req.True(store.Append("room_1", NewTextMessage(sender, fmt.Sprintf("msg %d", i), now)))
	}

	// Then exactly the last 100 remain, oldest first
	history := store.History("room_1")
	req.Len(history, DefaultHistoryLimit)
	for i, m := range history {
		req.Equal(fmt.Sprintf("msg %d", n-DefaultHistoryLimit+1+i), m.Text)
	}
}

func TestStore_System_Messages_Share_The_Eviction_Rule(t *testing.T) {
	req := require.New(t)
	store := NewStore(3)
	now := time.Now()
	store.Open("room_7")

	// When text and system messages are interleaved past the limit
	store.Append("room_7", NewTextMessage("a", "one", now))
	store.Append("room_7", NewSystemMessage("two", now))
	store.Append("room_7", NewTextMessage("b", "three", now))
	store.Append("room_7", NewSystemMessage("four", now))

	// Then the oldest entry is evicted regardless of kind
	history := store.History("room_7")
	req.Len(history, 3)
	req.Equal("two", history[0].Text)
	req.Equal(KindSystem, history[0].Kind)
	req.Equal(SystemSender, history[0].From)
	req.Equal("four", history[2].Text)
}

func TestStore_Append_To_Missing_Room_Is_Dropped(t *testing.T) {
	req := require.New(t)
	store := NewStore(0)

	req.Equal(DefaultHistoryLimit, store.limit)
	req.False(store.Append("room_404", NewTextMessage("a", "hi", time.Now())))
	req.False(store.Exists("room_404"))
	req.Nil(store.History("room_404"))
}

func TestStore_Delete_Removes_History(t *testing.T) {
	req := require.New(t)
	store := NewStore(10)
	store.Open("room_1")
	store.Append("room_1", NewTextMessage("a", "hi", time.Now()))

	// When the room is deleted twice
	req.True(store.Delete("room_1"))
	req.False(store.Delete("room_1"))

	// Then nothing of it is left
	req.False(store.Exists("room_1"))
	req.Equal(0, store.Len())
	req.Empty(store.WireHistory("room_1"))
	req.NotNil(store.WireHistory("room_1"))
}

func TestStore_History_Is_A_Copy(t *testing.T) {
	req := require.New(t)
	store := NewStore(10)
	store.Open("room_1")
	store.Append("room_1", NewTextMessage("a", "hi", time.Now()))

	history := store.History("room_1")
	history[0].Text = "mutated"

	req.Equal("hi", store.History("room_1")[0].Text)
}

func TestStore_Reset_Clears_All_Rooms(t *testing.T) {
	req := require.New(t)
	store := NewStore(10)
	store.Open("room_1")
	store.Open("room_2")
	req.ElementsMatch([]string{"room_1", "room_2"}, store.Rooms())

	store.Reset()

	req.Equal(0, store.Len())
	req.Empty(store.Rooms())
}

func TestMessage_Wire(t *testing.T) {
	req := require.New(t)
	ts := time.Date(2024, 3, 1, 10, 20, 30, 456_000_000, time.FixedZone("x", 3600))
	m := Message{ID: "1_abc", From: "p1", Text: "hi", Timestamp: ts, Kind: KindText}

	wire := m.Wire()

	req.Equal("1_abc", wire.ID)
	req.Equal("p1", wire.From)
	req.Equal("text", wire.Type)
	req.Equal("2024-03-01T09:20:30.456Z", wire.Timestamp)
}

func TestNewMessageID_Format_And_Uniqueness(t *testing.T) {
	req := require.New(t)
	now := time.UnixMilli(1_700_000_000_123)
	pattern := regexp.MustCompile(`^1700000000123_[0-9a-z]{9}$`)

	seen := make(map[string]struct{}, 10_000)
	for i := 0; i < 10_000; i++ {
		id := NewMessageID(now)
		req.Regexp(pattern, id)
		_, dup := seen[id]
		req.False(dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
