package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope is what travels over Redis. Frames are already encoded so every
// node writes identical bytes to its clients.
type envelope struct {
	Node   string          `json:"node"`
	Target Target          `json:"target"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay mirrors local sends to other nodes over Redis pub/sub and hands
// frames published elsewhere to the local Broadcaster.
type Relay struct {
	rdb     *redis.Client
	channel string
	node    string
	out     chan envelope
	deliver func(Target, []byte) int
	logger  *zap.Logger
}

func NewRelay(rdb *redis.Client, channel, node string, deliver func(Target, []byte) int, logger *zap.Logger) *Relay {
	return &Relay{
		rdb:     rdb,
		channel: channel,
		node:    node,
		out:     make(chan envelope, 1024),
		deliver: deliver,
		logger:  logger.With(zap.String("node_id", node), zap.String("channel", channel)),
	}
}

// Publish queues a frame for other nodes. It never blocks; a full outbox
// drops the frame.
func (r *Relay) Publish(t Target, frame []byte) {
	select {
	case r.out <- envelope{Node: r.node, Target: t, Frame: frame}:
	default:
		r.logger.Warn("relay outbox full, frame dropped", zap.String("target", string(t.Kind)))
	}
}

// Run subscribes and pumps both directions until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("realtime relay subscribed")

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("realtime relay stopping")
			return nil
		case env := <-r.out:
			payload, err := json.Marshal(env)
			if err != nil {
				r.logger.Error("failed to encode relay envelope", zap.Error(err))
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.Warn("relay publish failed", zap.Error(err))
			}
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

// handle delivers a frame from another node. Our own frames were already
// written locally when they were sent.
func (r *Relay) handle(payload []byte) int {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("invalid relay envelope", zap.Error(err))
		return 0
	}
	if env.Node == r.node || len(env.Frame) == 0 {
		return 0
	}
	return r.deliver(env.Target, env.Frame)
}
