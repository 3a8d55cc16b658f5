package lobby

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
)

// handle applies one client command on the lobby goroutine.
func (l *Lobby) handle(cmd engine.Command) error {
	if cmd.Type != engine.CmdJoin && cmd.Type != engine.CmdFillAgents {
		if _, ok := l.state.Find(cmd.ParticipantID); !ok {
			return engine.ErrNotJoined
		}
	}

	switch cmd.Type {
	case engine.CmdJoin, engine.CmdMarkReady:
		if err := l.apply(cmd); err != nil {
			return err
		}
		l.maybeAutoStart()
		return nil

	case engine.CmdFillAgents:
		return l.fillAgents(cmd.Count)

	case engine.CmdStartGame:
		if l.state.Phase != engine.PhaseWaiting {
			return engine.ErrAlreadyStarted
		}
		return l.start()

	case engine.CmdLeave:
		return l.leave(cmd.ParticipantID)

	case engine.CmdSpeak:
		return l.speak(cmd.ParticipantID, cmd.Text)

	case engine.CmdCastVote:
		cmd.Target = l.resolveTarget(cmd.Target)
		if err := l.apply(cmd); err != nil {
			return err
		}
		l.maybeCloseVoting()
		return nil

	case engine.CmdNightAction:
		cmd.Target = l.resolveTarget(cmd.Target)
		if cmd.Action == "" {
			p, _ := l.state.Find(cmd.ParticipantID)
			kind, ok := engine.ActionFor(p.Role)
			if !ok {
				return engine.ErrRoleMismatch
			}
			cmd.Action = kind
		}
		if err := l.apply(cmd); err != nil {
			return err
		}
		l.maybeCloseNight()
		return nil

	default:
		return engine.ErrUnsupportedCommand
	}
}

// resolveTarget accepts a display name or a participant id.
func (l *Lobby) resolveTarget(target string) string {
	if l.names == nil || target == "" {
		return target
	}
	if id, err := l.names.ID(target); err == nil {
		return id
	}
	return target
}

// fillAgents seats up to n agents, or as many as there are free seats
// when n is zero.
func (l *Lobby) fillAgents(n int) error {
	if l.state.Phase != engine.PhaseWaiting {
		return engine.ErrAlreadyStarted
	}
	free := l.state.Rules.Capacity - len(l.state.Roster)
	if free <= 0 {
		return engine.ErrRosterFull
	}
	if n <= 0 || n > free {
		n = free
	}
	for i := range n {
		cmd := engine.Command{
			Type:          engine.CmdJoin,
			ParticipantID: uuid.NewString(),
			Name:          fmt.Sprintf("agent-%d", len(l.state.Roster)+1),
			Kind:          engine.KindAgent,
			Model:         l.cfg.AgentModel,
		}
		if err := l.apply(cmd); err != nil {
			return fmt.Errorf("seat agent %d: %w", i+1, err)
		}
	}
	l.log.Info("agents seated", zap.Int("count", n))
	l.maybeAutoStart()
	return nil
}

// maybeAutoStart starts the game once every seat is taken and every human
// is ready.
func (l *Lobby) maybeAutoStart() {
	if l.state.Phase != engine.PhaseWaiting || !l.state.Full() || !l.state.AllReady() {
		return
	}
	if err := l.start(); err != nil {
		l.log.Warn("auto-start failed", zap.Error(err))
	}
}

// leave frees the seat before the game starts. Once it has started,
// leaving is an elimination.
func (l *Lobby) leave(id string) error {
	if l.state.Phase == engine.PhaseWaiting {
		return l.apply(engine.Command{Type: engine.CmdLeave, ParticipantID: id})
	}
	if l.state.Phase == engine.PhaseGameOver {
		return engine.ErrGameAlreadyCompleted
	}
	p, _ := l.state.Find(id)
	if !p.Alive {
		return engine.ErrActorNotAlive
	}
	l.eliminate(id, engine.CauseRemoved)
	return nil
}

// disconnected frees a waiting human's seat when its connection goes away.
func (l *Lobby) disconnected(id string) {
	p, ok := l.state.Find(id)
	if !ok || p.Kind != engine.KindHuman || l.state.Phase != engine.PhaseWaiting {
		return
	}
	if err := l.apply(engine.Command{Type: engine.CmdLeave, ParticipantID: id}); err != nil {
		l.log.Debug("free seat", zap.String("participant", id), zap.Error(err))
	}
}
