package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/lobby"
)

func testConfig() lobby.Config {
	return lobby.Config{Rules: engine.Rules{Capacity: 4, Quota: engine.Quota{HarmLeaders: 1}}}
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, lobby.Deps{})
	reply := make(chan *lobby.Lobby, 1)

	h.Inbox() <- CreateLobby{Code: "ZED123", Config: testConfig(), Reply: reply}
	lb1 := <-reply

	h.Inbox() <- GetLobby{Code: "ZED123", Reply: reply}
	lb2 := <-reply

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}
	assert.Equal(t, "ZED123", lb1.Code())

	h.Inbox() <- EnsureLobby{Code: "ZED123", Config: testConfig(), Reply: reply}
	assert.Same(t, lb1, <-reply)
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, lobby.Deps{})

	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{Code: "NOPE00", Reply: reply}
	assert.Nil(t, <-reply)
}

func TestHub_RemoveShutsLobbyDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, lobby.Deps{})

	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- CreateLobby{Code: "ABC123", Config: testConfig(), Reply: reply}
	lb := <-reply

	out := make(chan lobby.Snapshot, 2)
	lb.Inbox() <- lobby.Join{ClientID: "c1", Outbox: out}
	<-out

	h.Inbox() <- RemoveLobby{Code: "ABC123"}
	select {
	case _, ok := <-out:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("lobby not shut down")
	}

	count := make(chan int, 1)
	h.Inbox() <- CountLobbies{Reply: count}
	assert.Zero(t, <-count)
}
