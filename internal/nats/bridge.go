package nats

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	natsio "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/pkg/logger"
)

// broadcastSubject carries group broadcasts between relay instances.
const broadcastSubject = "relay.broadcast"

// frame is the wire format on the broadcast subject. Origin lets each
// instance skip frames it published itself.
type frame struct {
	Origin string          `json:"origin"`
	Group  string          `json:"group"`
	Data   json.RawMessage `json:"data"`
}

// Bridge replicates group broadcasts across relay instances over NATS so a
// session's participants can be connected to different instances.
type Bridge struct {
	client *Client
	origin string
	sub    *natsio.Subscription
	logger *logger.Logger
}

// NewBridge creates a bridge with a unique instance origin.
func NewBridge(client *Client, log *logger.Logger) *Bridge {
	return &Bridge{
		client: client,
		origin: uuid.NewString(),
		logger: log,
	}
}

// Publish forwards one pre-encoded broadcast frame to the other instances.
func (b *Bridge) Publish(group string, data []byte) error {
	payload, err := json.Marshal(frame{
		Origin: b.origin,
		Group:  group,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal bridge frame: %w", err)
	}
	return b.client.Conn().Publish(broadcastSubject, payload)
}

// Start subscribes to the broadcast subject and hands remote frames to
// deliver. Frames this instance published are skipped.
func (b *Bridge) Start(deliver func(group string, data []byte)) error {
	sub, err := b.client.Conn().Subscribe(broadcastSubject, func(msg *natsio.Msg) {
		var f frame
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			b.logger.Warn("dropping malformed bridge frame", zap.Error(err))
			return
		}
		if f.Origin == b.origin {
			return
		}
		deliver(f.Group, f.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to broadcast subject: %w", err)
	}
	b.sub = sub
	b.logger.Info("broadcast bridge started", zap.String("origin", b.origin))
	return nil
}

// Stop unsubscribes from the broadcast subject.
func (b *Bridge) Stop() {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe bridge", zap.Error(err))
		}
	}
}
