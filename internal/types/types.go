package types

import "github.com/DoyleJ11/nightfall-backend/internal/lobby"

// ClientMessage is one inbound websocket frame. Targets are display names.
type ClientMessage struct {
	Type          string `json:"type"` // "join" | "ready" | "start" | "fill_agents" | "leave" | "speak" | "vote" | "night_action"
	Ref           string `json:"ref,omitempty"`
	Name          string `json:"name,omitempty"`
	Text          string `json:"text,omitempty"`
	Target        string `json:"target,omitempty"`
	Justification string `json:"justification,omitempty"`
	Action        string `json:"action,omitempty"`
	Count         int    `json:"count,omitempty"`
}

type ServerMessage struct {
	Type    string            `json:"type"` // "snapshot" | "ack" | "error"
	Ref     string            `json:"ref,omitempty"`
	Version int               `json:"version,omitempty"`
	State   *lobby.PlayerView `json:"state,omitempty"`
	Events  []lobby.EventView `json:"events,omitempty"`
	Code    string            `json:"code,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type CreateLobbyRequest struct {
	Capacity int `json:"capacity,omitempty"`
}

type CreateLobbyResponse struct {
	Code     string `json:"code"`
	Capacity int    `json:"capacity"`
}

type AddAgentsRequest struct {
	Count int `json:"count,omitempty"`
}

type LobbyResponse struct {
	Code       string           `json:"code"`
	Version    int              `json:"version"`
	NumClients int              `json:"num_clients"`
	State      lobby.PlayerView `json:"state"`
}
