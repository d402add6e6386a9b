package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

// LogNotifier writes new requests to the log. The operator resolves them
// with the CLI.
type LogNotifier struct {
	log *logging.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(log *logging.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, req *Request) error {
	n.log.Info("approval required",
		logging.ApprovalID(req.ID),
		logging.Project(req.ProjectID),
		logging.ToolName(req.ToolName),
	)
	return nil
}

// Notification is the message body published for a new request. The
// snapshot stays in the store.
type Notification struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	CreatedAt time.Time      `json:"created_at"`
}

func notificationFor(req *Request) Notification {
	return Notification{
		ID:        req.ID,
		ProjectID: req.ProjectID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		CreatedAt: req.CreatedAt,
	}
}

// AMQPConfig holds connection settings for AMQPNotifier.
type AMQPConfig struct {
	URL   string
	Queue string
}

// AMQPNotifier publishes new requests to a durable queue so chat front
// ends can render approve/reject controls.
type AMQPNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPNotifier dials the broker and declares the queue.
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentd.approvals"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, queue: queue}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, req *Request) error {
	if n == nil || n.ch == nil {
		return errors.New("amqp notifier is not initialized")
	}
	body, err := json.Marshal(notificationFor(req))
	if err != nil {
		return err
	}
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    req.ID,
		Timestamp:    req.CreatedAt,
		Body:         body,
	})
}

// Close closes the channel and connection.
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
