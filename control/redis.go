// Package control connects a session to the dashboard through Redis: it
// reads strategy inputs and start/stop/exit-all commands and publishes
// status, actions, trading figures, heartbeats and logs.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "control")

const (
	InputPrefix     = "strategy:input:"
	ControlKey      = "strategy:control"
	ExitAllKey      = "strategy:exit_all_signal"
	StatusKey       = "strategy:execution_status"
	LatestActionKey = "strategy:latest_action"
	HistoryKey      = "strategy:action_history"
	TradingKey      = "strategy:trading_status"
	HeartbeatKey    = "strategy:heartbeat"
	LogsKey         = "strategy:logs"

	historyLen = 50
	logsLen    = 100

	// DefaultWriteTimeout bounds each status write.
	DefaultWriteTimeout = 500 * time.Millisecond
)

// Action is a dashboard command.
type Action string

const (
	Start Action = "start"
	Stop  Action = "stop"
)

// Redis is both the strategy input source and a status.Sink. Status
// writes give up after WriteTimeout; wrap the sink in status.Async to keep
// them off the trading loops entirely.
type Redis struct {
	WriteTimeout time.Duration

	client *redis.Client
	symbol string
	now    func() time.Time
}

var _ status.Sink = (*Redis)(nil)

func New(client *redis.Client) *Redis {
	return &Redis{WriteTimeout: DefaultWriteTimeout, client: client, now: time.Now}
}

// ClientOptions are the client settings for cfg. Context deadlines apply to
// socket reads and failed commands are not retried.
func ClientOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		MaxRetries:            -1,
		DialTimeout:           2 * time.Second,
		ReadTimeout:           time.Second,
		WriteTimeout:          time.Second,
		ContextTimeoutEnabled: true,
	}
}

// Dial opens a client for cfg. The connection is lazy; use Ping to check it.
func Dial(cfg config.RedisConfig) *Redis {
	return New(redis.NewClient(ClientOptions(cfg)))
}

func (r *Redis) Client() *redis.Client { return r.client }

// SetSymbol tags trading status updates with the traded index.
func (r *Redis) SetSymbol(symbol string) { r.symbol = symbol }

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

// Inputs returns every strategy input present under InputPrefix.
func (r *Redis) Inputs(ctx context.Context) (map[string]string, error) {
	keys := make([]string, len(config.InputKeys))
	for i, k := range config.InputKeys {
		keys[i] = InputPrefix + k
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}

	out := make(map[string]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			out[config.InputKeys[i]] = s
		}
	}
	return out, nil
}

// Available reports whether every essential input has been published.
func (r *Redis) Available(ctx context.Context) (bool, error) {
	keys := make([]string, len(config.EssentialKeys))
	for i, k := range config.EssentialKeys {
		keys[i] = InputPrefix + k
	}
	n, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("check inputs: %w", err)
	}
	return n == int64(len(keys)), nil
}

// Strategy builds the validated strategy snapshot from the inputs.
func (r *Redis) Strategy(ctx context.Context) (config.Strategy, error) {
	inputs, err := r.Inputs(ctx)
	if err != nil {
		return config.Strategy{}, err
	}
	return config.StrategyFromInputs(inputs)
}

// SetInput publishes one input value, JSON encoded.
func (r *Redis) SetInput(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, InputPrefix+key, b, 0).Err()
}

type command struct {
	Action Action `json:"action"`
}

// Command returns the last published command, or "" when none is set.
func (r *Redis) Command(ctx context.Context) (Action, error) {
	raw, err := r.client.Get(ctx, ControlKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read command: %w", err)
	}
	var c command
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return "", fmt.Errorf("decode command %q: %w", raw, err)
	}
	return c.Action, nil
}

// SendCommand publishes a command, as the dashboard does.
func (r *Redis) SendCommand(ctx context.Context, a Action) error {
	b, _ := json.Marshal(command{Action: a})
	return r.client.Set(ctx, ControlKey, b, 0).Err()
}

type exitAllSignal struct {
	ExitAllPositions bool `json:"exit_all_positions"`
}

// ExitAllRequested consumes the exit-all signal. A signal is seen once.
func (r *Redis) ExitAllRequested(ctx context.Context) (bool, error) {
	raw, err := r.client.GetDel(ctx, ExitAllKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read exit signal: %w", err)
	}
	var sig exitAllSignal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return false, fmt.Errorf("decode exit signal %q: %w", raw, err)
	}
	return sig.ExitAllPositions, nil
}

// RequestExitAll publishes the exit-all signal.
func (r *Redis) RequestExitAll(ctx context.Context) error {
	b, _ := json.Marshal(exitAllSignal{ExitAllPositions: true})
	return r.client.Set(ctx, ExitAllKey, b, 0).Err()
}

func (r *Redis) timestamp() float64 {
	return float64(r.now().UnixNano()) / 1e9
}

func (r *Redis) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.WriteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.WriteTimeout)
}

func (r *Redis) set(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("key", key).Debug("encode")
		return
	}
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	if err := r.client.Set(ctx, key, b, 0).Err(); err != nil {
		log.WithError(err).WithField("key", key).Debug("redis set")
	}
}

func (r *Redis) Status(ctx context.Context, state, msg string) {
	r.set(ctx, StatusKey, map[string]any{
		"execution_status": state,
		"message":          msg,
		"timestamp":        r.timestamp(),
	})
}

func (r *Redis) Action(ctx context.Context, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	b, err := json.Marshal(map[string]any{
		"timestamp": r.timestamp(),
		"action":    action,
		"details":   details,
	})
	if err != nil {
		log.WithError(err).WithField("action", action).Debug("encode action")
		return
	}
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, LatestActionKey, b, 0)
		pipe.LPush(ctx, HistoryKey, b)
		pipe.LTrim(ctx, HistoryKey, 0, historyLen-1)
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("action", action).Debug("redis action")
	}
}

// Trading merges u into the stored trading status.
func (r *Redis) Trading(ctx context.Context, u status.TradingUpdate) {
	merged := map[string]any{}
	gctx, cancel := r.bounded(ctx)
	raw, err := r.client.Get(gctx, TradingKey).Bytes()
	cancel()
	if err == nil {
		if err := json.Unmarshal(raw, &merged); err != nil {
			merged = map[string]any{}
		}
	} else if !errors.Is(err, redis.Nil) {
		log.WithError(err).Debug("redis trading status")
	}

	for k, v := range u.Fields() {
		merged[k] = v
	}
	now := r.now()
	merged["timestamp"] = float64(now.UnixNano()) / 1e9
	merged["last_update"] = now.Format("2006-01-02 15:04:05")
	if r.symbol != "" {
		merged["symbol"] = r.symbol
	}
	r.set(ctx, TradingKey, merged)
}

func (r *Redis) Heartbeat(ctx context.Context) {
	r.set(ctx, HeartbeatKey, map[string]any{
		"timestamp":  r.timestamp(),
		"status":     "alive",
		"process_id": os.Getpid(),
	})
}
