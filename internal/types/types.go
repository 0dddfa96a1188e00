package types

import "github.com/DoyleJ11/arena-sync/internal/shell"

const (
	MsgKeyDown = "KeyDown"
	MsgKeyUp   = "KeyUp"
	MsgBlur    = "Blur"

	MsgOverlay = "Overlay"
	MsgError   = "Error"
)

type ClientMessage struct {
	Type string `json:"type"` // "KeyDown" | "KeyUp" | "Blur"
	Key  string `json:"key,omitempty"`
}

type ServerMessage struct {
	Type    string         `json:"type"` // "Overlay" | "Error"
	Overlay *shell.Overlay `json:"overlay,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type JoinRequest struct {
	Name string `json:"name"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
