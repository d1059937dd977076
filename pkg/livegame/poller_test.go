package livegame

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(t *testing.T, handler http.Handler) *Poller {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPoller(srv.URL, http.DefaultClient)
}

func TestPoller_Snapshot(t *testing.T) {
	p := newTestPoller(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathAllGameData, r.URL.Path)
		w.Write([]byte(`{
			"activePlayer": {"summonerName":"me","level":7,"currentGold":1234.5},
			"allPlayers": [{"summonerName":"me","team":"ORDER","level":7,
				"scores":{"kills":2,"deaths":1,"assists":3,"creepScore":80}}],
			"gameData": {"gameTime": 601.2}
		}`))
	}))

	p.pollSnapshot(context.Background())
	snap := <-p.Snapshots()
	assert.Equal(t, 7, snap.ActivePlayer.Level)
	assert.Equal(t, 601.2, snap.GameData.GameTime)
	require.Len(t, snap.AllPlayers, 1)
	assert.Equal(t, TeamOrder, snap.AllPlayers[0].Team)
	assert.Equal(t, 80, snap.AllPlayers[0].Scores.CreepScore)
	assert.True(t, p.Available())
}

func TestPoller_SnapshotDropsOldest(t *testing.T) {
	var n atomic.Int32
	p := newTestPoller(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"gameData":{"gameTime":%d}}`, n.Add(1))
	}))

	ctx := context.Background()
	p.pollSnapshot(ctx) // gameTime 1
	p.pollSnapshot(ctx) // gameTime 2 evicts 1

	snap := <-p.Snapshots()
	assert.Equal(t, float64(2), snap.GameData.GameTime)
	select {
	case <-p.Snapshots():
		t.Fatal("expected exactly one buffered snapshot")
	default:
	}
}

func TestPoller_EventsMonotonic(t *testing.T) {
	responses := []string{
		`{"Events":[
			{"EventID":0,"EventName":"GameStart","EventTime":0},
			{"EventID":2,"EventName":"ChampionKill","EventTime":300,"VictimName":"a"},
			{"EventID":1,"EventName":"DragonKill","EventTime":250,"KillerName":"b"}
		]}`,
		`{"Events":[
			{"EventID":1,"EventName":"DragonKill","EventTime":250,"KillerName":"b"},
			{"EventID":2,"EventName":"ChampionKill","EventTime":300,"VictimName":"a"},
			{"EventID":3,"EventName":"BaronKill","EventTime":1300,"KillerName":"c"}
		]}`,
	}
	var call atomic.Int32
	p := newTestPoller(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathEventData, r.URL.Path)
		w.Write([]byte(responses[call.Add(1)-1]))
	}))

	ctx := context.Background()
	p.pollEvents(ctx)
	first := <-p.Events()
	require.Len(t, first, 3)
	// Ascending IDs even though the feed was out of order.
	assert.Equal(t, []int{0, 1, 2}, []int{first[0].EventID, first[1].EventID, first[2].EventID})

	p.pollEvents(ctx)
	second := <-p.Events()
	// Only the strictly newer event survives the high-water mark.
	require.Len(t, second, 1)
	assert.Equal(t, 3, second[0].EventID)
	assert.Equal(t, EventBaronKill, second[0].EventName)
}

func TestPoller_EventIDZeroOnlyEmittedOnce(t *testing.T) {
	p := newTestPoller(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Events":[{"EventID":0,"EventName":"GameStart"}]}`))
	}))

	ctx := context.Background()
	p.pollEvents(ctx)
	// EventID 0 is not above the initial high-water mark of 0, so the
	// mark starts one below: GameStart must still arrive.
	select {
	case evs := <-p.Events():
		require.Len(t, evs, 1)
		assert.Equal(t, EventGameStart, evs[0].EventName)
	default:
		t.Fatal("GameStart event was swallowed")
	}

	p.pollEvents(ctx)
	select {
	case <-p.Events():
		t.Fatal("duplicate event emitted")
	default:
	}
}

func TestPoller_AvailabilityEdges(t *testing.T) {
	up := true
	var edges []bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"gameData":{"gameTime":1}}`))
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, http.DefaultClient)
	p.OnAvailability = func(v bool) { edges = append(edges, v) }

	ctx := context.Background()
	p.pollSnapshot(ctx)
	p.pollSnapshot(ctx) // no repeat edge
	up = false
	p.pollSnapshot(ctx)
	up = true
	p.pollSnapshot(ctx)

	assert.Equal(t, []bool{true, false, true}, edges)
}

func TestPoller_Reset(t *testing.T) {
	p := NewPoller("http://127.0.0.1:0", http.DefaultClient)
	p.maxEventID = 42
	p.Reset()

	fresh := p.filterNew([]GameEvent{{EventID: 1, EventName: EventDragonKill}})
	require.Len(t, fresh, 1)
}
