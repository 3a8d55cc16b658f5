package lobby

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/anon"
	"github.com/DoyleJ11/nightfall-backend/internal/coord"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/extract"
	"github.com/DoyleJ11/nightfall-backend/internal/llm"
)

type Msg interface{ isLobbyMsg() }

// FromClient carries one command. Cmd.ParticipantID is set by the
// transport, never by the client. Reply, if set, receives the verdict.
type FromClient struct {
	Cmd   engine.Command
	Reply chan error
}

func (FromClient) isLobbyMsg() {}

// Join subscribes a connection. ClientID doubles as the participant id the
// connection plays under.
type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// agentAnswer and timerFired are posted by goroutines the lobby started.
type agentAnswer struct{ coord.Outcome }

func (agentAnswer) isLobbyMsg() {}

type timerFired struct {
	Gen         uint64
	Name        string
	Participant string
}

func (timerFired) isLobbyMsg() {}

type Snapshot struct {
	Version int
	State   PlayerView
	// Events are the facts since the last snapshot this viewer may see.
	Events []EventView
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

// Config is everything that shapes one game.
type Config struct {
	Rules  engine.Rules
	Timing coord.Timing

	RoleAssignmentDelay time.Duration
	NightDuration       time.Duration
	RevelationDelay     time.Duration
	DiscussionDuration  time.Duration
	VotingDuration      time.Duration

	MaxParallelRequests int
	NamePool            []string
	AgentModel          string
	// Seed fixes the game's randomness when non-zero.
	Seed uint64
}

// CheckSeats reports whether every seat can be dealt a role and a display
// name.
func (c Config) CheckSeats() error {
	if _, err := c.Rules.Quota.Tokens(c.Rules.Capacity); err != nil {
		return err
	}
	if n := anon.Capacity(c.NamePool); n < c.Rules.Capacity {
		return fmt.Errorf("%w: %d names for %d seats", engine.ErrNamePoolTooSmall, n, c.Rules.Capacity)
	}
	return nil
}

// EventSink observes every event the game produces. Record is called on
// the lobby goroutine and must not block.
type EventSink interface {
	Record(code string, phase engine.Phase, evt engine.Event)
}

// Deps are shared across lobbies.
type Deps struct {
	Generator    llm.Generator
	AgentOptions agent.Options
	Log          *zap.Logger
	Sink         EventSink
}

type Lobby struct {
	code    string
	cfg     Config
	deps    Deps
	log     *zap.Logger
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	rng     *rand.Rand

	// Events produced while handling the current message.
	pending []engine.Event
	dirty   bool

	// Per-game collaborators, set at start.
	names    *anon.Registry
	agents   *agent.Protocol
	chain    *extract.Chain
	dispatch *coord.Dispatcher

	gen        uint64
	scope      *coord.Scope
	discussion *coord.Discussion
	voting     *coord.Voting
	night      *coord.Night
}

func NewLobby(parent context.Context, code string, cfg Config, deps Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	l := &Lobby{
		code:    code,
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.Named("lobby").With(zap.String("code", code)),
		inbox:   make(chan Msg, 64), // Small buffer
		state:   engine.NewEmptyState(cfg.Rules),
		clients: make(map[string]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}

	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: l.version, State: l.viewFor(msg.ClientID)}

			case Leave:
				delete(l.clients, msg.ClientID)
				l.disconnected(msg.ClientID)

			case FromClient:
				err := l.handle(msg.Cmd)
				if err != nil {
					l.log.Debug("command rejected",
						zap.String("type", string(msg.Cmd.Type)),
						zap.String("participant", msg.Cmd.ParticipantID),
						zap.Error(err))
				}
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case agentAnswer:
				l.onAnswer(msg.Outcome)

			case timerFired:
				l.onTimer(msg)

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state.Clone(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
			l.flush()
		}
	}
}

// post hands m to the loop from another goroutine.
func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) shutdown() {
	l.closeScope()
	if l.agents != nil {
		l.agents.Close()
	}
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

// flush bumps the version and fans the pending events out when anything
// changed during the last message.
func (l *Lobby) flush() {
	if !l.dirty && len(l.pending) == 0 {
		return
	}
	l.version++
	events := l.pending
	l.pending = nil
	l.dirty = false

	for id, ch := range l.clients {
		snap := Snapshot{Version: l.version, State: l.viewFor(id), Events: l.eventsFor(id, events)}
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			l.log.Info("dropping slow client", zap.String("client", id))
			close(ch)
			delete(l.clients, id)
		}
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }
