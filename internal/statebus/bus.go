// Package statebus fans the current PumpRuntimeState out to external
// consumers: a Redis hash holds the latest snapshot field-by-field for
// point reads, and a pubsub channel carries a CBOR-encoded full snapshot
// for subscribers that want to react to every change.
package statebus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sertumit/fuelcore/internal/pumpstate"
)

// Snapshot is the wire shape published on the pubsub channel: a flattened,
// CBOR-friendly view of pumpstate.State.
type Snapshot struct {
	PumpState string `cbor:"pump_state"`
	NozzleOut bool   `cbor:"nozzle_out"`

	CurrentFillVolumeL float64 `cbor:"current_fill_volume_l"`
	HasCurrentFill     bool    `cbor:"has_current_fill"`
	LastFillVolumeL    float64 `cbor:"last_fill_volume_l"`
	HasLastFill        bool    `cbor:"has_last_fill"`

	TotalVolumeL float64 `cbor:"total_volume_l"`
	TotalAmount  float64 `cbor:"total_amount"`

	LastCardUID    string `cbor:"last_card_uid"`
	LastCardAuthOk bool   `cbor:"last_card_auth_ok"`
	LastCardUserID string `cbor:"last_card_user_id"`
	LastCardPlate  string `cbor:"last_card_plate"`

	LimitLiters          float64 `cbor:"limit_liters"`
	HasLimit             bool    `cbor:"has_limit"`
	RemainingLimitLiters float64 `cbor:"remaining_limit_liters"`

	AuthActive bool `cbor:"auth_active"`
	SaleActive bool `cbor:"sale_active"`
}

// FromState flattens a pumpstate.State into its wire Snapshot.
func FromState(s pumpstate.State) Snapshot {
	return Snapshot{
		PumpState:            s.PumpState.String(),
		NozzleOut:            s.NozzleOut,
		CurrentFillVolumeL:   s.CurrentFillVolumeL,
		HasCurrentFill:       s.HasCurrentFill,
		LastFillVolumeL:      s.LastFillVolumeL,
		HasLastFill:          s.HasLastFill,
		TotalVolumeL:         s.Totals.TotalVolumeL,
		TotalAmount:          s.Totals.TotalAmount,
		LastCardUID:          s.LastCardUID,
		LastCardAuthOk:       s.LastCardAuthOk,
		LastCardUserID:       s.LastCardUserID,
		LastCardPlate:        s.LastCardPlate,
		LimitLiters:          s.LimitLiters,
		HasLimit:             s.HasLimit,
		RemainingLimitLiters: s.RemainingLimitLiters,
		AuthActive:           s.AuthActive,
		SaleActive:           s.SaleActive,
	}
}

// Bus publishes snapshots to Redis. It holds its own context internally
// rather than taking one per call.
type Bus struct {
	client  *redis.Client
	ctx     context.Context
	hashKey string
	channel string
}

// Config is the connection and addressing info for a Bus.
type Config struct {
	Addr     string
	Password string
	DB       int
	HashKey  string
	Channel  string
}

// New connects to Redis and pings it once to fail fast on a bad address.
func New(cfg Config) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("statebus: connect to redis: %w", err)
	}

	return &Bus{client: client, ctx: ctx, hashKey: cfg.HashKey, channel: cfg.Channel}, nil
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Publish writes the snapshot's fields into the Redis hash and publishes
// its CBOR encoding on the pubsub channel, in one pipeline.
func (b *Bus) Publish(snap Snapshot) error {
	payload, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("statebus: marshal snapshot: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.HSet(b.ctx, b.hashKey, map[string]any{
		"pump_state":              snap.PumpState,
		"nozzle_out":              boolStr(snap.NozzleOut),
		"current_fill_volume_l":   strconv.FormatFloat(snap.CurrentFillVolumeL, 'f', -1, 64),
		"has_current_fill":        boolStr(snap.HasCurrentFill),
		"last_fill_volume_l":      strconv.FormatFloat(snap.LastFillVolumeL, 'f', -1, 64),
		"has_last_fill":           boolStr(snap.HasLastFill),
		"total_volume_l":          strconv.FormatFloat(snap.TotalVolumeL, 'f', -1, 64),
		"total_amount":            strconv.FormatFloat(snap.TotalAmount, 'f', -1, 64),
		"last_card_uid":           snap.LastCardUID,
		"last_card_auth_ok":       boolStr(snap.LastCardAuthOk),
		"last_card_user_id":       snap.LastCardUserID,
		"last_card_plate":         snap.LastCardPlate,
		"limit_liters":            strconv.FormatFloat(snap.LimitLiters, 'f', -1, 64),
		"has_limit":               boolStr(snap.HasLimit),
		"remaining_limit_liters":  strconv.FormatFloat(snap.RemainingLimitLiters, 'f', -1, 64),
		"auth_active":             boolStr(snap.AuthActive),
		"sale_active":             boolStr(snap.SaleActive),
	})
	pipe.Publish(b.ctx, b.channel, payload)

	if _, err := pipe.Exec(b.ctx); err != nil {
		return fmt.Errorf("statebus: publish snapshot: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded Snapshots and an unsubscribe func.
func (b *Bus) Subscribe() (<-chan Snapshot, func()) {
	pubsub := b.client.Subscribe(b.ctx, b.channel)
	raw := pubsub.Channel()

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		for msg := range raw {
			var snap Snapshot
			if err := cbor.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			out <- snap
		}
	}()

	return out, func() { pubsub.Close() }
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
