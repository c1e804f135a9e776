package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	nodeChannelPrefix = "echolink:node:"
	broadcastChannel  = "echolink:broadcast"
)

// relayFrame is what crosses Redis between nodes.
type relayFrame struct {
	Origin string          `json:"origin"`
	ConnID string          `json:"conn_id,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisBridge links hubs running in separate processes over Redis pub/sub.
// Each node listens on its own channel plus the shared broadcast channel.
// Pub/sub is at-most-once: a node that is down misses whatever was sent.
type RedisBridge struct {
	client *redis.Client
	nodeID string
	logger *zap.Logger
}

func NewRedisBridge(client *redis.Client, nodeID string, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{client: client, nodeID: nodeID, logger: logger}
}

func (b *RedisBridge) Forward(ctx context.Context, nodeID, connID string, frame []byte) error {
	return b.publish(ctx, nodeChannelPrefix+nodeID, relayFrame{Origin: b.nodeID, ConnID: connID, Frame: frame})
}

func (b *RedisBridge) Broadcast(ctx context.Context, frame []byte) error {
	return b.publish(ctx, broadcastChannel, relayFrame{Origin: b.nodeID, Frame: frame})
}

func (b *RedisBridge) publish(ctx context.Context, channel string, f relayFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Run subscribes and feeds incoming frames into hub until ctx is done.
// ready, if non-nil, is closed once the subscription is live.
func (b *RedisBridge) Run(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, nodeChannelPrefix+b.nodeID, broadcastChannel)
	defer sub.Close()

	// Subscribe is lazy; Receive waits for the confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.Info("bridge subscribed", zap.String("node_id", b.nodeID))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(hub, msg)
		}
	}
}

func (b *RedisBridge) handle(hub *Hub, msg *redis.Message) {
	var f relayFrame
	if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
		b.logger.Warn("bad relay frame", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}

	if msg.Channel == broadcastChannel {
		if f.Origin == b.nodeID {
			return
		}
		hub.broadcastLocal(f.Frame)
		return
	}

	if err := hub.deliverLocal(f.ConnID, f.Frame); err != nil && !errors.Is(err, ErrConnNotFound) {
		b.logger.Debug("relayed push dropped", zap.String("conn_id", f.ConnID), zap.Error(err))
	}
}
