package domain

import (
	"encoding/json"
	"fmt"
)

const (
	// ServerUser is the author of every server-originated frame.
	ServerUser = "server"

	GreetingText   = "Connected to server"
	PingText       = "ping"
	PongText       = "pong"
	DisconnectText = "Disconnected"

	// DisconnectCloseCode is the private-use close code a client sends when it leaves on purpose.
	DisconnectCloseCode = 4000
)

// ChatMessage is the single frame exchanged between client and server.
type ChatMessage struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

func NewChatMessage(user, message string) ChatMessage {
	return ChatMessage{User: user, Message: message}
}

// ServerMessage returns a frame authored by the server.
func ServerMessage(message string) ChatMessage {
	return ChatMessage{User: ServerUser, Message: message}
}

// DisconnectNotice is sent by a client before it closes its connection.
func DisconnectNotice(username string) ChatMessage {
	return ChatMessage{User: username, Message: DisconnectText}
}

func (m ChatMessage) IsPing() bool {
	return m.Message == PingText
}

func (m ChatMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat message: %w", err)
	}
	return data, nil
}

// ParseResult is the outcome of decoding an inbound frame: either Parsed or Malformed.
type ParseResult interface{ isParseResult() }

type Parsed struct {
	Message ChatMessage
}

func (Parsed) isParseResult() {}

type Malformed struct {
	Reason string
}

func (Malformed) isParseResult() {}

// ParseChatMessage decodes a text frame. A frame is well-formed when it is a JSON object
// with a string "user" field. A missing "message" decodes as the empty string.
func ParseChatMessage(payload []byte) ParseResult {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Malformed{Reason: "not a JSON object"}
	}

	rawUser, ok := fields["user"]
	if !ok {
		return Malformed{Reason: "missing user field"}
	}

	var msg ChatMessage
	if err := json.Unmarshal(rawUser, &msg.User); err != nil || string(rawUser) == "null" {
		return Malformed{Reason: "user is not a string"}
	}

	if rawMessage, ok := fields["message"]; ok {
		if err := json.Unmarshal(rawMessage, &msg.Message); err != nil || string(rawMessage) == "null" {
			return Malformed{Reason: "message is not a string"}
		}
	}

	return Parsed{Message: msg}
}
