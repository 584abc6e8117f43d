// Package relay republishes telemetry onto Redis pub/sub channels so
// off-host consumers can follow a session without connecting to the plugin
// endpoint.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/frames"
	"github.com/lakeshorelabs/groundstation/internal/logger"
	"github.com/lakeshorelabs/groundstation/internal/wire"
)

// Publisher is the one pub/sub operation the relay needs from a Redis
// client.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisPublisher struct {
	client *redis.Client
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Relay forwards frames and raw chunks to Redis channels. It runs
// independently of the plugin endpoint's enabled flag. Messages carry the
// same line-delimited envelopes the plugin wire uses, so Redis consumers
// and plugins share one parser.
type Relay struct {
	publisher    Publisher
	client       *redis.Client
	frameChannel string
	rawChannel   string
}

// New connects a relay to the configured Redis instance.
func New(cfg config.RelayConfig) *Relay {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		Protocol: 2,
	})

	r := NewWithPublisher(&redisPublisher{client: client}, cfg.ChannelPrefix)
	r.client = client
	return r
}

// NewWithPublisher builds a relay on any publisher implementation.
func NewWithPublisher(publisher Publisher, channelPrefix string) *Relay {
	if channelPrefix == "" {
		channelPrefix = "groundstation"
	}
	return &Relay{
		publisher:    publisher,
		frameChannel: channelPrefix + ":frames",
		rawChannel:   channelPrefix + ":raw",
	}
}

// FrameChannel returns the pub/sub channel carrying frame envelopes.
func (r *Relay) FrameChannel() string {
	return r.frameChannel
}

// RawChannel returns the pub/sub channel carrying raw chunk envelopes.
func (r *Relay) RawChannel() string {
	return r.rawChannel
}

// Run consumes frames and raw chunks until the context is cancelled or
// both channels close. Publish failures are logged and the loop keeps
// going.
func (r *Relay) Run(ctx context.Context, frameCh <-chan frames.Frame, rawCh <-chan []byte, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frameCh:
				if !ok {
					frameCh = nil
					if rawCh == nil {
						return
					}
					continue
				}
				r.publishFrame(ctx, frame)
			case chunk, ok := <-rawCh:
				if !ok {
					rawCh = nil
					if frameCh == nil {
						return
					}
					continue
				}
				r.publishRaw(ctx, chunk)
			}
		}
	}()
}

func (r *Relay) publishFrame(ctx context.Context, frame frames.Frame) {
	payload, err := wire.EncodeFrameBatch([]json.RawMessage{frame.Payload})
	if err != nil {
		logger.Error("Failed to encode frame for relay", "seq", frame.Seq, "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, r.frameChannel, payload); err != nil {
		logger.Warning("Relay publish failed", "channel", r.frameChannel, "error", err)
	}
}

func (r *Relay) publishRaw(ctx context.Context, chunk []byte) {
	payload := wire.EncodeRawChunk(chunk)
	if err := r.publisher.Publish(ctx, r.rawChannel, payload); err != nil {
		logger.Warning("Relay publish failed", "channel", r.rawChannel, "error", err)
	}
}

// Close releases the Redis connection. Relays built on a custom publisher
// have nothing to close.
func (r *Relay) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
