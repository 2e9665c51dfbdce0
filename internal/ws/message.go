package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Server -> Client message types
	MessageTypeAgentStatus MessageType = "agent_status"
	MessageTypeTransaction MessageType = "transaction_update"
	MessageTypePong        MessageType = "pong"

	// Client -> Server message types
	MessageTypePing        MessageType = "ping"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
)

// ErrUnknownMessageType is returned when a frame carries a type outside the
// known vocabulary. The frame is dropped; the session stays alive.
var ErrUnknownMessageType = errors.New("unknown message type")

// knownTypes is the closed vocabulary accepted on decode.
var knownTypes = map[MessageType]struct{}{
	MessageTypeAgentStatus: {},
	MessageTypeTransaction: {},
	MessageTypePing:        {},
	MessageTypePong:        {},
	MessageTypeSubscribe:   {},
	MessageTypeUnsubscribe: {},
}

// Message is the envelope carried over every frame. The payload shape is
// determined by Type; unknown fields are ignored on decode so the format can
// evolve without breaking older peers. A Message is immutable once built.
type Message struct {
	Type      MessageType     `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// AgentStatusPayload is the payload for agent_status messages.
type AgentStatusPayload struct {
	AgentID     string    `json:"agent_id"`
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
	Details     string    `json:"details"`
}

// TransactionPayload is the payload for transaction_update messages.
type TransactionPayload struct {
	TxID        string    `json:"tx_id"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Amount      string    `json:"amount"`
	Blockchain  string    `json:"blockchain"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
}

// NewAgentStatusMessage builds an agent_status message scoped to the agent's topic.
func NewAgentStatusMessage(agentID, status, details string) (Message, error) {
	payload, err := json.Marshal(AgentStatusPayload{
		AgentID:     agentID,
		Status:      status,
		LastUpdated: time.Now().UTC(),
		Details:     details,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal agent status payload: %w", err)
	}

	return Message{
		Type:      MessageTypeAgentStatus,
		Topic:     agentID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewTransactionMessage builds a transaction_update message scoped to the transaction's topic.
func NewTransactionMessage(txID, status, amount, blockchain, fromAddr, toAddr string) (Message, error) {
	payload, err := json.Marshal(TransactionPayload{
		TxID:        txID,
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Amount:      amount,
		Blockchain:  blockchain,
		FromAddress: fromAddr,
		ToAddress:   toAddr,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal transaction payload: %w", err)
	}

	return Message{
		Type:      MessageTypeTransaction,
		Topic:     txID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewSubscribeMessage builds a subscribe control message for a topic.
func NewSubscribeMessage(topic string) Message {
	return Message{Type: MessageTypeSubscribe, Topic: topic, Timestamp: time.Now().UTC()}
}

// NewUnsubscribeMessage builds an unsubscribe control message for a topic.
func NewUnsubscribeMessage(topic string) Message {
	return Message{Type: MessageTypeUnsubscribe, Topic: topic, Timestamp: time.Now().UTC()}
}

// NewPingMessage builds an application-level heartbeat message.
func NewPingMessage() Message {
	return Message{Type: MessageTypePing, Timestamp: time.Now().UTC()}
}

// NewPongMessage builds the reply to an application-level heartbeat.
func NewPongMessage() Message {
	return Message{Type: MessageTypePong, Timestamp: time.Now().UTC()}
}

// DecodeMessage parses a frame into a Message. Frames with a type outside the
// known vocabulary fail with ErrUnknownMessageType.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	if _, ok := knownTypes[msg.Type]; !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}

	return msg, nil
}

// Encode serializes the message for the wire.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// SubscriptionTopic returns the topic of a subscribe/unsubscribe message.
// Older clients put the topic string in the payload instead of the envelope.
func (m Message) SubscriptionTopic() string {
	if m.Topic != "" {
		return m.Topic
	}
	var topic string
	if err := json.Unmarshal(m.Payload, &topic); err != nil {
		return ""
	}
	return topic
}

// AgentStatus decodes the payload of an agent_status message.
func (m Message) AgentStatus() (AgentStatusPayload, error) {
	var p AgentStatusPayload
	if m.Type != MessageTypeAgentStatus {
		return p, fmt.Errorf("message type is %q, not %q", m.Type, MessageTypeAgentStatus)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("decode agent status payload: %w", err)
	}
	return p, nil
}

// Transaction decodes the payload of a transaction_update message.
func (m Message) Transaction() (TransactionPayload, error) {
	var p TransactionPayload
	if m.Type != MessageTypeTransaction {
		return p, fmt.Errorf("message type is %q, not %q", m.Type, MessageTypeTransaction)
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("decode transaction payload: %w", err)
	}
	return p, nil
}
