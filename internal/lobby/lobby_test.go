package lobby

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/coord"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/llm"
)

var optionsLine = regexp.MustCompile(`(?m)^Options:\s*(.+)$`)

// firstOption always picks the first listed option and says something bland
// when there are none.
var firstOption = llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
	if m := optionsLine.FindStringSubmatch(req.Prompt); m != nil {
		first := strings.TrimSpace(strings.Split(m[1], ",")[0])
		return llm.Response{Text: fmt.Sprintf(`{"target": %q, "reason": "first on my list"}`, first)}, nil
	}
	return llm.Response{Text: `{"message": "I have nothing to hide."}`}, nil
})

var unavailable = llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, errors.New("model unavailable")
})

func fastConfig(capacity int, quota engine.Quota) Config {
	return Config{
		Rules: engine.Rules{Capacity: capacity, Quota: quota, MaxUtteranceLen: 200},
		Timing: coord.Timing{
			SpeakerTimeout: 50 * time.Millisecond,
			VoteTimeout:    100 * time.Millisecond,
			ActionTimeout:  100 * time.Millisecond,
			CouncilTimeout: 100 * time.Millisecond,
			MaxStagger:     5 * time.Millisecond,
		},
		RoleAssignmentDelay: 5 * time.Millisecond,
		NightDuration:       300 * time.Millisecond,
		RevelationDelay:     5 * time.Millisecond,
		DiscussionDuration:  2 * time.Second,
		VotingDuration:      300 * time.Millisecond,
		MaxParallelRequests: 4,
		Seed:                42,
	}
}

// sink records every event it is handed.
type sink struct {
	mu     sync.Mutex
	events []engine.Event
}

func (s *sink) Record(code string, phase engine.Phase, evt engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *sink) count(t engine.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestLobby(t *testing.T, cfg Config, gen llm.Generator) (*Lobby, *sink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &sink{}
	l := NewLobby(ctx, "TEST01", cfg, Deps{Generator: gen, Sink: rec})
	t.Cleanup(cancel)
	return l, rec
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func state(t *testing.T, l *Lobby) engine.State {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	return recvView(t, reply, time.Second).State
}

func send(t *testing.T, l *Lobby, cmd engine.Command) error {
	t.Helper()
	reply := make(chan error, 1)
	l.Inbox() <- FromClient{Cmd: cmd, Reply: reply}
	select {
	case err := <-reply:
		return err
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply to %s", cmd.Type)
		return nil
	}
}

func waitPhase(t *testing.T, l *Lobby, phase engine.Phase, within time.Duration) engine.State {
	t.Helper()
	var s engine.State
	require.Eventually(t, func() bool {
		s = state(t, l)
		return s.Phase == phase
	}, within, 5*time.Millisecond, "never reached %s", phase)
	return s
}

func TestLobby_JoinBroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(4, engine.Quota{HarmLeaders: 1}), firstOption)

	clientOut := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "h1", Outbox: clientOut}

	first := recvSnapshot(t, clientOut, 100*time.Millisecond)
	assert.Equal(t, 0, first.Version)
	assert.Equal(t, engine.PhaseWaiting, first.State.Phase)
	assert.Empty(t, first.State.Roster)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))

	next := recvSnapshot(t, clientOut, 100*time.Millisecond)
	assert.Equal(t, 1, next.Version)
	require.Len(t, next.State.Roster, 1)
	assert.Equal(t, "Player One", next.State.You)
	assert.Equal(t, engine.KindHuman, next.State.Roster[0].Kind)
	require.Len(t, next.Events, 1)
	assert.Equal(t, engine.EvtParticipantJoined, next.Events[0].Type)
	assert.Equal(t, "Player One", next.Events[0].Participant)
}

func TestLobby_Rejections(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(4, engine.Quota{HarmLeaders: 1}), firstOption)

	err := send(t, l, engine.Command{Type: engine.CmdSpeak, ParticipantID: "ghost", Text: "hi"})
	require.ErrorIs(t, err, engine.ErrNotJoined)
	assert.Equal(t, "not_joined", engine.ReasonCode(err))

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	require.ErrorIs(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1"}), engine.ErrDuplicateParticipant)
	require.ErrorIs(t, send(t, l, engine.Command{Type: engine.CmdCastVote, ParticipantID: "h1", Target: "x"}), engine.ErrWrongPhase)
	require.ErrorIs(t, send(t, l, engine.Command{Type: engine.CmdSpeak, ParticipantID: "h1", Text: "hello"}), engine.ErrWrongPhase)

	// Starting short of capacity is fatal for the start only.
	err = send(t, l, engine.Command{Type: engine.CmdStartGame, ParticipantID: "h1"})
	require.ErrorIs(t, err, engine.ErrRoleCountMismatch)
	assert.Equal(t, engine.PhaseWaiting, state(t, l).Phase)
}

func TestLobby_StartRejectsMoreSeatsThanNames(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(30, engine.Quota{HarmLeaders: 1}), firstOption)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdMarkReady, ParticipantID: "h1"}))

	err := send(t, l, engine.Command{Type: engine.CmdStartGame, ParticipantID: "h1"})
	require.ErrorIs(t, err, engine.ErrNamePoolTooSmall)
	assert.Equal(t, "name_pool_too_small", engine.ReasonCode(err))

	s := state(t, l)
	assert.Equal(t, engine.PhaseWaiting, s.Phase)
	for _, p := range s.Roster {
		assert.Empty(t, p.DisplayName, "nobody is named by a failed start")
	}
}

func TestLobby_FillAgentsWaitsForReadyHumans(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(4, engine.Quota{HarmLeaders: 1}), firstOption)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))

	s := state(t, l)
	require.Len(t, s.Roster, 4)
	assert.Equal(t, engine.PhaseWaiting, s.Phase, "human not ready yet")
	require.ErrorIs(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}), engine.ErrRosterFull)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdMarkReady, ParticipantID: "h1"}))
	s = state(t, l)
	assert.NotEqual(t, engine.PhaseWaiting, s.Phase)

	seen := map[string]bool{}
	for _, p := range s.Roster {
		require.NotEmpty(t, p.DisplayName)
		require.False(t, seen[p.DisplayName], "display names are unique")
		seen[p.DisplayName] = true
		require.NotEqual(t, engine.RoleNone, p.Role)
	}
	require.ErrorIs(t, send(t, l, engine.Command{Type: engine.CmdStartGame, ParticipantID: "h1"}), engine.ErrAlreadyStarted)
}

func TestLobby_AgentGamePlaysToTheEnd(t *testing.T) {
	l, rec := newTestLobby(t, fastConfig(7, engine.Quota{HarmLeaders: 1, HarmAccomplices: 1, Protectors: 1}), firstOption)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))
	s := waitPhase(t, l, engine.PhaseGameOver, 10*time.Second)

	outcome, over := engine.CheckWin(s)
	require.True(t, over)
	assert.Equal(t, outcome.Winner, s.Winner)
	assert.NotEmpty(t, s.Eliminations)
	for _, e := range s.Eliminations {
		p, ok := s.Find(e.Participant)
		require.True(t, ok)
		assert.False(t, p.Alive)
	}
	assert.Equal(t, 1, rec.count(engine.EvtGameEnded))
	assert.Positive(t, rec.count(engine.EvtUtteranceReceived))
	assert.Positive(t, rec.count(engine.EvtCouncilMessage))
	assert.Equal(t, 7, rec.count(engine.EvtRoleAssigned))
}

func TestLobby_FailingAgentsNeverStallTheGame(t *testing.T) {
	l, rec := newTestLobby(t, fastConfig(7, engine.Quota{HarmLeaders: 1, HarmAccomplices: 1, Protectors: 1}), unavailable)

	out := make(chan Snapshot, 1024)
	l.Inbox() <- Join{ClientID: "observer", Outbox: out}
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))

	waitPhase(t, l, engine.PhaseGameOver, 10*time.Second)
	// Every speaker timed out, so nobody said anything.
	assert.Zero(t, rec.count(engine.EvtUtteranceReceived))
	assert.Positive(t, rec.count(engine.EvtSpeakerPassed))
	// Fallback votes still happen.
	assert.Positive(t, rec.count(engine.EvtVoteCast))

	var private int
	for len(out) > 0 {
		for _, e := range (<-out).Events {
			if e.Type == engine.EvtRoleAssigned || e.Type == engine.EvtNightActionSubmitted {
				private++
			}
		}
	}
	assert.Zero(t, private, "an outsider never sees private events")
}

// stalled never answers; every request runs into its timeout.
var stalled = llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
})

// Every timed-out agent draws its default from the shared extraction chain
// on its own dispatcher goroutine, many at once. Run with -race.
func TestLobby_StalledAgentsFallBackConcurrently(t *testing.T) {
	l, rec := newTestLobby(t, fastConfig(10, engine.Quota{HarmLeaders: 1, HarmAccomplices: 1, Protectors: 1}), stalled)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))
	s := waitPhase(t, l, engine.PhaseGameOver, 15*time.Second)

	_, over := engine.CheckWin(s)
	assert.True(t, over)
	assert.Positive(t, rec.count(engine.EvtVoteCast))
	assert.Positive(t, rec.count(engine.EvtNightActionSubmitted))
}

func TestLobby_StaleGenerationIsDropped(t *testing.T) {
	cfg := fastConfig(4, engine.Quota{HarmLeaders: 1})
	cfg.RoleAssignmentDelay = time.Hour
	cfg.NightDuration = time.Hour
	l, _ := newTestLobby(t, cfg, firstOption)

	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("h%d", i)
		require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: id, Name: "Player " + id}))
	}
	for i := 1; i <= 4; i++ {
		require.NoError(t, send(t, l, engine.Command{Type: engine.CmdMarkReady, ParticipantID: fmt.Sprintf("h%d", i)}))
	}

	view := func() View {
		reply := make(chan View, 1)
		l.Inbox() <- GetState{Reply: reply}
		return recvView(t, reply, time.Second)
	}

	before := view()
	require.Equal(t, engine.PhaseRoleAssignment, before.State.Phase)

	// Nothing has run before role assignment, so generation zero is stale.
	l.Inbox() <- timerFired{Gen: 0, Name: timerPhase}
	l.Inbox() <- agentAnswer{coord.Outcome{Gen: 0, Participant: "h1", Kind: agent.KindVote}}
	after := view()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, engine.PhaseRoleAssignment, after.State.Phase)

	// The current generation's deadline still moves the game on.
	l.Inbox() <- timerFired{Gen: 1, Name: timerPhase}
	waitPhase(t, l, engine.PhaseNight, time.Second)

	before = view()
	l.Inbox() <- timerFired{Gen: 1, Name: timerPhase}
	l.Inbox() <- agentAnswer{coord.Outcome{Gen: 1, Participant: "h2", Kind: agent.KindNight}}
	after = view()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, engine.PhaseNight, after.State.Phase)
	assert.Empty(t, after.State.NightActions)
}

// humanInVoting seats three agents and then one human, and runs the game
// until voting opens. The agents always pick the first option, so the
// human, seated last, survives the first night.
func humanInVoting(t *testing.T) (*Lobby, engine.State) {
	t.Helper()
	cfg := fastConfig(4, engine.Quota{HarmLeaders: 1})
	cfg.VotingDuration = 5 * time.Second
	cfg.NightDuration = 100 * time.Millisecond
	l, _ := newTestLobby(t, cfg, firstOption)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents, Count: 3}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdMarkReady, ParticipantID: "h1"}))
	return l, waitPhase(t, l, engine.PhaseVoting, 5*time.Second)
}

func TestLobby_HumanVoteValidationAndEarlyClose(t *testing.T) {
	l, s := humanInVoting(t)
	me, ok := s.Find("h1")
	require.True(t, ok)
	require.True(t, me.Alive)
	assert.Equal(t, 1, s.Round)

	err := send(t, l, engine.Command{Type: engine.CmdCastVote, ParticipantID: "h1", Target: me.DisplayName})
	require.ErrorIs(t, err, engine.ErrSelfVote)
	assert.Equal(t, "self_vote", engine.ReasonCode(err))

	err = send(t, l, engine.Command{Type: engine.CmdCastVote, ParticipantID: "h1", Target: "Nobody"})
	require.ErrorIs(t, err, engine.ErrUnknownParticipant)

	for _, e := range s.Eliminations {
		dead, _ := s.Find(e.Participant)
		err = send(t, l, engine.Command{Type: engine.CmdCastVote, ParticipantID: "h1", Target: dead.DisplayName})
		require.ErrorIs(t, err, engine.ErrTargetNotAlive)
	}

	var target engine.Participant
	for _, p := range s.Living() {
		if p.ID != "h1" {
			target = p
			break
		}
	}
	// Display names resolve case-insensitively.
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdCastVote, ParticipantID: "h1", Target: strings.ToUpper(target.DisplayName)}))

	// The human's was the last vote outstanding, so voting closes at once.
	require.Eventually(t, func() bool {
		return state(t, l).Phase != engine.PhaseVoting
	}, time.Second, 5*time.Millisecond)
}

func TestLobby_LeaveAfterStartIsAnElimination(t *testing.T) {
	cfg := fastConfig(4, engine.Quota{HarmLeaders: 1})
	cfg.RoleAssignmentDelay = 5 * time.Second
	l, rec := newTestLobby(t, cfg, firstOption)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdMarkReady, ParticipantID: "h1"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))
	before := waitPhase(t, l, engine.PhaseRoleAssignment, time.Second)
	me, _ := before.Find("h1")

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdLeave, ParticipantID: "h1"}))
	after := state(t, l)
	p, _ := after.Find("h1")
	assert.False(t, p.Alive)
	require.Len(t, after.Eliminations, 1)
	assert.Equal(t, engine.CauseRemoved, after.Eliminations[0].Cause)

	if me.Role == engine.RoleHarmLeader {
		assert.Equal(t, engine.PhaseGameOver, after.Phase)
		assert.Equal(t, engine.TeamNonHarm, after.Winner)
		assert.Equal(t, 1, rec.count(engine.EvtGameEnded))
	} else {
		assert.Equal(t, engine.PhaseRoleAssignment, after.Phase)
		require.ErrorIs(t, send(t, l, engine.Command{Type: engine.CmdLeave, ParticipantID: "h1"}), engine.ErrActorNotAlive)
	}
}

func TestLobby_DisconnectFreesWaitingSeat(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(4, engine.Quota{HarmLeaders: 1}), firstOption)

	out := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "h1", Outbox: out}
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	l.Inbox() <- Leave{ClientID: "h1"}

	s := state(t, l)
	assert.Empty(t, s.Roster)
}

func TestLobby_RolesStayPrivate(t *testing.T) {
	cfg := fastConfig(4, engine.Quota{HarmLeaders: 1})
	cfg.RoleAssignmentDelay = 5 * time.Second
	l, _ := newTestLobby(t, cfg, firstOption)

	out := make(chan Snapshot, 16)
	l.Inbox() <- Join{ClientID: "h1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdMarkReady, ParticipantID: "h1"}))
	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdFillAgents}))

	var snap Snapshot
	for snap.State.Phase != engine.PhaseRoleAssignment {
		snap = recvSnapshot(t, out, time.Second)
	}

	assert.NotEqual(t, engine.RoleNone, snap.State.Role)
	assert.NotEqual(t, "Player One", snap.State.You, "join names are replaced at start")
	for _, seat := range snap.State.Roster {
		assert.Empty(t, seat.Kind, "agents are not marked once the game is on")
		if seat.ID != "h1" && snap.State.Role != engine.RoleHarmLeader {
			assert.Empty(t, seat.Role)
		}
	}

	var assigned int
	for _, e := range snap.Events {
		if e.Type == engine.EvtRoleAssigned {
			assigned++
			assert.Equal(t, snap.State.You, e.Participant)
		}
	}
	assert.Equal(t, 1, assigned, "only my own role assignment")
}

func TestLobby_DropSlowClient(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(4, engine.Quota{HarmLeaders: 1}), firstOption)

	clientOut := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	require.NoError(t, send(t, l, engine.Command{Type: engine.CmdJoin, ParticipantID: "h1", Name: "Player One"}))

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestLobby_ShutdownClosesOutboxes(t *testing.T) {
	l, _ := newTestLobby(t, fastConfig(4, engine.Quota{HarmLeaders: 1}), firstOption)

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 500*time.Millisecond) // drain join snapshot

	l.Inbox() <- Shutdown{}
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("outbox never closed")
	}
}
