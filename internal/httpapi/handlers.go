package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/hub"
	"github.com/DoyleJ11/nightfall-backend/internal/lobby"
	"github.com/DoyleJ11/nightfall-backend/internal/types"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ServerMessage{Type: "error", Code: code, Error: msg})
}

// CreateLobby opens a new game with the server defaults. The body may
// override the seat count.
func CreateLobby(h *hub.Hub, defaults lobby.Config, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", "bad json")
			return
		}
		cfg := defaults
		if req.Capacity > 0 {
			cfg.Rules.Capacity = req.Capacity
		}
		if err := cfg.CheckSeats(); err != nil {
			writeError(w, http.StatusBadRequest, engine.ReasonCode(err), err.Error())
			return
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			reply := make(chan *lobby.Lobby, 1)
			h.Inbox() <- hub.GetLobby{Code: c, Reply: reply}
			if <-reply == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.EnsureLobby{Code: code, Config: cfg, Reply: reply}
		if <-reply == nil {
			http.Error(w, "failed to create lobby", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, types.CreateLobbyResponse{Code: code, Capacity: cfg.Rules.Capacity})
	}
}

func findLobby(h *hub.Hub, w http.ResponseWriter, r *http.Request) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- hub.GetLobby{Code: chi.URLParam(r, "code"), Reply: reply}
	lb := <-reply
	if lb == nil {
		writeError(w, http.StatusNotFound, "not_found", "lobby not found")
	}
	return lb
}

func publicView(lb *lobby.Lobby) (types.LobbyResponse, error) {
	reply := make(chan lobby.View, 1)
	lb.Inbox() <- lobby.GetState{Reply: reply}
	select {
	case v := <-reply:
		return types.LobbyResponse{
			Code:       lb.Code(),
			Version:    v.Version,
			NumClients: v.NumClients,
			State:      lobby.Redact(v.State, ""),
		}, nil
	case <-time.After(2 * time.Second):
		return types.LobbyResponse{}, errors.New("lobby did not answer")
	}
}

// GetLobby returns the public view: no roles until the game is over.
func GetLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb := findLobby(h, w, r)
		if lb == nil {
			return
		}
		resp, err := publicView(lb)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// AddAgents seats agents in a waiting lobby.
func AddAgents(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AddAgentsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", "bad json")
			return
		}
		lb := findLobby(h, w, r)
		if lb == nil {
			return
		}

		verdict := make(chan error, 1)
		lb.Inbox() <- lobby.FromClient{Cmd: engine.Command{Type: engine.CmdFillAgents, Count: req.Count}, Reply: verdict}
		if err := <-verdict; err != nil {
			writeError(w, http.StatusConflict, engine.ReasonCode(err), err.Error())
			return
		}
		resp, err := publicView(lb)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
