package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/hub"
	"github.com/DoyleJ11/nightfall-backend/internal/lobby"
	"github.com/DoyleJ11/nightfall-backend/internal/types"
)

// ErrBadRequest marks frames that cannot be turned into a command.
var ErrBadRequest = errors.New("bad request")

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.GetLobby{Code: code, Reply: reply}
		lb := <-reply
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			log.Debug("accept", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// The connection id is also the participant id it plays under.
		clientID := uuid.NewString()
		clog := log.With(zap.String("code", code), zap.String("client", clientID))
		out := make(chan lobby.Snapshot, 16)

		lb.Inbox() <- lobby.Join{ClientID: clientID, Outbox: out}
		defer func() {
			select {
			case lb.Inbox() <- lobby.Leave{ClientID: clientID}:
			case <-time.After(time.Second):
			}
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case snap, ok := <-out:
					if !ok {
						// The lobby dropped us or shut down.
						writeCancel()
						return
					}
					send(writeCtx, conn, types.ServerMessage{
						Type:    "snapshot",
						Version: snap.Version,
						State:   &snap.State,
						Events:  snap.Events,
					})
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(writeCtx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(writeCtx, conn, errorMessage("", ErrBadRequest, "bad json"))
				continue
			}

			cmd, err := ToEngineCommand(cm, clientID)
			if err != nil {
				send(writeCtx, conn, errorMessage(cm.Ref, err, err.Error()))
				continue
			}

			verdict := make(chan error, 1)
			select {
			case lb.Inbox() <- lobby.FromClient{Cmd: cmd, Reply: verdict}:
			case <-writeCtx.Done():
				return
			}
			select {
			case err = <-verdict:
			case <-writeCtx.Done():
				return
			}
			if err != nil {
				send(writeCtx, conn, errorMessage(cm.Ref, err, err.Error()))
				continue
			}
			send(writeCtx, conn, types.ServerMessage{Type: "ack", Ref: cm.Ref})
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func errorMessage(ref string, err error, text string) types.ServerMessage {
	code := engine.ReasonCode(err)
	if errors.Is(err, ErrBadRequest) {
		code = "bad_request"
	}
	return types.ServerMessage{Type: "error", Ref: ref, Code: code, Error: text}
}

// ToEngineCommand maps a client frame onto an engine command played by
// participant.
func ToEngineCommand(m types.ClientMessage, participant string) (engine.Command, error) {
	cmd := engine.Command{ParticipantID: participant}
	switch m.Type {
	case "join":
		if m.Name == "" {
			return engine.Command{}, fmt.Errorf("%w: join needs a name", ErrBadRequest)
		}
		cmd.Type, cmd.Name, cmd.Kind = engine.CmdJoin, m.Name, engine.KindHuman
	case "ready":
		cmd.Type = engine.CmdMarkReady
	case "start":
		cmd.Type = engine.CmdStartGame
	case "fill_agents":
		cmd.Type, cmd.Count = engine.CmdFillAgents, m.Count
	case "leave":
		cmd.Type = engine.CmdLeave
	case "speak":
		cmd.Type, cmd.Text = engine.CmdSpeak, m.Text
	case "vote":
		if m.Target == "" {
			return engine.Command{}, fmt.Errorf("%w: vote needs a target", ErrBadRequest)
		}
		cmd.Type, cmd.Target, cmd.Text = engine.CmdCastVote, m.Target, m.Justification
	case "night_action":
		cmd.Type, cmd.Target = engine.CmdNightAction, m.Target
		switch engine.ActionKind(m.Action) {
		case "", engine.ActionHarm, engine.ActionProtect:
			cmd.Action = engine.ActionKind(m.Action)
		default:
			return engine.Command{}, fmt.Errorf("%w: unknown action", ErrBadRequest)
		}
	default:
		return engine.Command{}, fmt.Errorf("%w: unknown type", ErrBadRequest)
	}
	return cmd, nil
}
