package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/checkin-refunds/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("checkin-refunds"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func wrap(msg *nats.Msg) *Message {
	id := msg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        id,
	}
}

// Subjects
const (
	TokenIssued       = "attendance.token.issued"
	TokenRevoked      = "attendance.token.revoked"
	AttendanceRecord  = "attendance.recorded"
	ReportUpdated     = "report.updated"
	RefundSettled     = "refund.settled"
	PolicyUpdated     = "refund.policy.updated"
	SettlementWorkers = "settlement-cache"
)

// Event payloads
type TokenIssuedEvent struct {
	OccurrenceID int64     `json:"occurrence_id"`
	TokenID      int64     `json:"token_id"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidUntil   time.Time `json:"valid_until"`
	IssuedBy     int64     `json:"issued_by"`
}

type TokenRevokedEvent struct {
	OccurrenceID int64     `json:"occurrence_id"`
	Revoked      int64     `json:"revoked"`
	RevokedAt    time.Time `json:"revoked_at"`
}

type AttendanceRecordedEvent struct {
	ProgramID     int64      `json:"program_id"`
	OccurrenceID  int64      `json:"occurrence_id"`
	ParticipantID int64      `json:"participant_id"`
	Status        string     `json:"status"`
	Method        string     `json:"method"`
	CheckedAt     *time.Time `json:"checked_at,omitempty"`
	Correction    bool       `json:"correction"`
}

// ReportUpdatedEvent is emitted by the report workflow outside this service;
// settlement only needs the keys to invalidate cached decisions.
type ReportUpdatedEvent struct {
	ProgramID     int64 `json:"program_id"`
	ParticipantID int64 `json:"participant_id"`
}

// PolicyUpdatedEvent is emitted by program management when deposit or tier
// settings change.
type PolicyUpdatedEvent struct {
	ProgramID int64 `json:"program_id"`
}

type RefundSettledEvent struct {
	ProgramID     int64     `json:"program_id"`
	ParticipantID int64     `json:"participant_id"`
	RefundRate    int       `json:"refund_rate"`
	RefundAmount  int64     `json:"refund_amount"`
	Eligible      bool      `json:"eligible"`
	SettledAt     time.Time `json:"settled_at"`
}
