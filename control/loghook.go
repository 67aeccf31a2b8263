package control

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// LogHook mirrors log entries at Info and above to the strategy:logs list
// for the dashboard. Entries are written from one goroutine; when the queue
// is full or Redis fails they are lost.
type LogHook struct {
	client  *redis.Client
	key     string
	timeout time.Duration

	queue  chan []byte
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func NewLogHook(client *redis.Client) *LogHook {
	h := &LogHook{
		client:  client,
		key:     LogsKey,
		timeout: DefaultWriteTimeout,
		queue:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *LogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

func (h *LogHook) Fire(e *logrus.Entry) error {
	name, _ := e.Data["component"].(string)
	if name == "" {
		name = "root"
	}
	msg, err := e.String()
	if err != nil {
		msg = e.Message
	}
	b, err := json.Marshal(map[string]any{
		"timestamp": float64(e.Time.UnixNano()) / 1e9,
		"level":     e.Level.String(),
		"message":   msg,
		"logger":    name,
	})
	if err != nil {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	select {
	case h.queue <- b:
	default:
	}
	return nil
}

func (h *LogHook) run() {
	defer close(h.done)
	for b := range h.queue {
		h.push(b)
	}
}

func (h *LogHook) push(b []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	_, _ = h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, h.key, b)
		pipe.LTrim(ctx, h.key, 0, logsLen-1)
		return nil
	})
}

// Close writes the queued entries and stops the hook. Later entries are
// dropped.
func (h *LogHook) Close() error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()
	<-h.done
	return nil
}
