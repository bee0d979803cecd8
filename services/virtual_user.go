package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	loaderrors "chatload/errors"
	"chatload/metrics"
	"chatload/models"
	"chatload/websocket"

	"golang.org/x/sync/errgroup"
)

// errSessionEnded is returned by the listener when the connection is gone so
// the errgroup wakes the script goroutine.
var errSessionEnded = errors.New("session ended")

// closeAckTimeout bounds the wait for the server to answer our close frame.
const closeAckTimeout = time.Second

// SessionOptions is the per-user script, fixed for the whole run.
type SessionOptions struct {
	URL                 string
	Channels            []string
	MessagesPerUser     int
	ThinkTimeMin        time.Duration
	ThinkTimeMax        time.Duration
	UnsubscribeDelay    time.Duration
	CloseDelay          time.Duration
	UnsubscribeOddUsers bool
}

func NewSessionOptions(cfg *models.Config) SessionOptions {
	return SessionOptions{
		URL:                 cfg.Target.URL,
		Channels:            append([]string(nil), cfg.Target.Channels...),
		MessagesPerUser:     cfg.Session.MessagesPerUser,
		ThinkTimeMin:        cfg.Session.ThinkTimeMin.Duration,
		ThinkTimeMax:        cfg.Session.ThinkTimeMax.Duration,
		UnsubscribeDelay:    cfg.Session.UnsubscribeDelay.Duration,
		CloseDelay:          cfg.Session.CloseDelay.Duration,
		UnsubscribeOddUsers: cfg.Session.UnsubscribeOddUsers,
	}
}

// VirtualUser runs one simulated chat user over its own connection.
type VirtualUser struct {
	ID       int
	Username string

	opts   SessionOptions
	dialer *websocket.Dialer
	sink   *metrics.Sink
	logger *models.LoadLogger
	rng    *rand.Rand

	mutex       sync.RWMutex
	state       models.SessionState
	channels    map[string]bool
	connectedAt time.Time
	lastErr     error

	sent     atomic.Int64
	received atomic.Int64
}

func NewVirtualUser(id int, opts SessionOptions, dialer *websocket.Dialer, sink *metrics.Sink, logger *models.LoadLogger) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		Username: fmt.Sprintf("user_%d", id),
		opts:     opts,
		dialer:   dialer,
		sink:     sink,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id))),
		state:    models.SessionConnecting,
		channels: make(map[string]bool),
	}
}

// VirtualUserInfo is a read-only view for status reporting.
type VirtualUserInfo struct {
	ID          int                 `json:"id"`
	Username    string              `json:"username"`
	State       models.SessionState `json:"state"`
	Channels    []string            `json:"channels"`
	Sent        int64               `json:"sent"`
	Received    int64               `json:"received"`
	ConnectedAt *time.Time          `json:"connected_at,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func (vu *VirtualUser) State() models.SessionState {
	vu.mutex.RLock()
	defer vu.mutex.RUnlock()
	return vu.state
}

// Channels returns the channels the user is currently subscribed to, in
// configuration order.
func (vu *VirtualUser) Channels() []string {
	vu.mutex.RLock()
	defer vu.mutex.RUnlock()

	channels := make([]string, 0, len(vu.channels))
	for _, ch := range vu.opts.Channels {
		if vu.channels[ch] {
			channels = append(channels, ch)
		}
	}
	return channels
}

func (vu *VirtualUser) Sent() int64     { return vu.sent.Load() }
func (vu *VirtualUser) Received() int64 { return vu.received.Load() }

func (vu *VirtualUser) Info() VirtualUserInfo {
	info := VirtualUserInfo{
		ID:       vu.ID,
		Username: vu.Username,
		State:    vu.State(),
		Channels: vu.Channels(),
		Sent:     vu.sent.Load(),
		Received: vu.received.Load(),
	}

	vu.mutex.RLock()
	if !vu.connectedAt.IsZero() {
		t := vu.connectedAt
		info.ConnectedAt = &t
	}
	if vu.lastErr != nil {
		info.Error = vu.lastErr.Error()
	}
	vu.mutex.RUnlock()

	return info
}

func (vu *VirtualUser) setState(next models.SessionState) {
	vu.mutex.Lock()
	defer vu.mutex.Unlock()

	if vu.state == next {
		return
	}
	if !models.CanTransition(vu.state, next) {
		vu.logger.Debug("[VU-%d] ignoring transition %s -> %s", vu.ID, vu.state, next)
		return
	}
	vu.state = next
}

func (vu *VirtualUser) setError(err error) {
	vu.mutex.Lock()
	vu.lastErr = err
	vu.mutex.Unlock()
}

// Run executes the session once. It returns when the connection is closed by
// the script, by the server, or by ctx being cancelled. A failed handshake,
// a failed write and a connection that breaks while reading are reported as
// errors.
func (vu *VirtualUser) Run(ctx context.Context) error {
	start := time.Now()
	client, status, err := vu.dialer.Dial(ctx, vu.opts.URL)
	if err != nil {
		if ctx.Err() != nil {
			// Retired while the handshake was in flight.
			vu.setState(models.SessionClosed)
			return nil
		}

		connErr := loaderrors.NewConnectError(err, vu.ID, fmt.Sprintf("status %d", status))
		vu.sink.RecordCheck(metrics.CheckConnected, false)
		vu.sink.Increment(metrics.MetricSessionsFailed, 1)
		vu.setError(connErr)
		vu.setState(models.SessionFailed)
		vu.logger.LogSessionError(vu.ID, connErr)
		vu.logger.LogSessionClosed(vu.ID, models.SessionFailed)
		return connErr
	}

	latency := time.Since(start)
	vu.sink.RecordDuration(metrics.MetricConnectTime, latency)
	vu.sink.RecordCheck(metrics.CheckConnected, status == http.StatusSwitchingProtocols)
	vu.sink.Increment(metrics.MetricSessionsStarted, 1)

	vu.mutex.Lock()
	vu.connectedAt = client.ConnectedAt
	vu.mutex.Unlock()
	vu.setState(models.SessionActive)
	vu.logger.LogSessionConnected(vu.ID, latency)

	err = vu.serve(ctx, client)
	vu.setState(models.SessionClosed)
	vu.logger.LogSessionClosed(vu.ID, models.SessionClosed)

	if err != nil {
		vu.setError(err)
	}
	return err
}

// serve runs the listener and the script over an open connection. A script
// failure wins over the listener error it usually causes.
func (vu *VirtualUser) serve(ctx context.Context, client *websocket.Client) error {
	var scriptErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return vu.listen(client)
	})
	g.Go(func() error {
		defer client.Close()
		scriptErr = vu.script(gctx, client)
		return scriptErr
	})

	err := g.Wait()
	if scriptErr != nil {
		return scriptErr
	}
	if err == nil || errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

func (vu *VirtualUser) listen(client *websocket.Client) error {
	if err := client.ReadPump(vu.handleFrame); err != nil {
		recvErr := loaderrors.NewReceiveError(err, vu.ID)
		vu.sink.RecordRate(metrics.MetricMessageErrorRate, true)
		vu.logger.LogSessionError(vu.ID, recvErr)
		return recvErr
	}
	return errSessionEnded
}

// script is the user's side of the conversation: subscribe, chat, and for
// odd ids unsubscribe and close.
func (vu *VirtualUser) script(ctx context.Context, client *websocket.Client) error {
	for _, ch := range vu.opts.Channels {
		frame, err := websocket.EncodeSubscribe(ch)
		if err != nil {
			return vu.sendFailed(err, string(websocket.SubscribeType(ch)))
		}
		if err := client.Send(frame); err != nil {
			return vu.sendFailed(err, string(websocket.SubscribeType(ch)))
		}
		vu.mutex.Lock()
		vu.channels[ch] = true
		vu.mutex.Unlock()
	}

	for i := 0; i < vu.opts.MessagesPerUser; i++ {
		start := time.Now()
		frame, err := websocket.EncodeChat(vu.Username, fmt.Sprintf("text_%d", i))
		if err != nil {
			return vu.sendFailed(err, string(websocket.MessageChat))
		}
		if err := client.Send(frame); err != nil {
			return vu.sendFailed(err, string(websocket.MessageChat))
		}
		vu.sink.RecordDuration(metrics.MetricSendMessageTime, time.Since(start))
		vu.sink.Increment(metrics.MetricMessagesSent, 1)
		vu.sent.Add(1)

		if !sleepContext(ctx, vu.thinkTime()) {
			return nil
		}
	}

	if !vu.opts.UnsubscribeOddUsers || vu.ID%2 == 0 {
		// Keep the connection open until retired.
		<-ctx.Done()
		return nil
	}

	if !sleepContext(ctx, vu.opts.UnsubscribeDelay) {
		return nil
	}
	for _, ch := range vu.opts.Channels {
		frame, err := websocket.EncodeUnsubscribe(ch)
		if err != nil {
			return vu.sendFailed(err, string(websocket.UnsubscribeType(ch)))
		}
		if err := client.Send(frame); err != nil {
			return vu.sendFailed(err, string(websocket.UnsubscribeType(ch)))
		}
		vu.mutex.Lock()
		delete(vu.channels, ch)
		vu.mutex.Unlock()
	}

	if !sleepContext(ctx, vu.opts.CloseDelay) {
		return nil
	}
	vu.setState(models.SessionClosing)
	if err := client.SendClose(); err != nil {
		vu.logger.Debug("[VU-%d] close frame not sent: %v", vu.ID, err)
		return nil
	}
	sleepContext(ctx, closeAckTimeout)
	return nil
}

func (vu *VirtualUser) sendFailed(err error, frameType string) error {
	sendErr := loaderrors.NewSendError(err, vu.ID, frameType)
	vu.sink.Increment(metrics.MetricSendErrors, 1)
	vu.sink.RecordRate(metrics.MetricMessageErrorRate, true)
	vu.logger.LogSessionError(vu.ID, sendErr)
	return sendErr
}

// handleFrame processes one incoming frame. Nothing here may stop the
// listener: every failure becomes an error-rate sample and a log line.
func (vu *VirtualUser) handleFrame(raw []byte) {
	defer vu.recoverFrame(raw)

	start := time.Now()
	env, err := websocket.Decode(raw)
	if err != nil {
		vu.sink.RecordRate(metrics.MetricMessageErrorRate, true)
		vu.logger.LogInvalidFrame(vu.ID, string(raw), err)
		return
	}

	if env.Type != websocket.MessageChat {
		return
	}

	var msg websocket.ChatMessageOut
	if err := env.UnmarshalPayload(&msg); err != nil {
		procErr := loaderrors.NewProcessingError(err, vu.ID, "chat payload")
		vu.sink.RecordRate(metrics.MetricMessageErrorRate, true)
		vu.logger.LogInvalidFrame(vu.ID, string(raw), procErr)
		return
	}

	vu.sink.RecordDuration(metrics.MetricMessageReceivedTime, time.Since(start))
	vu.sink.Increment(metrics.MetricMessagesReceived, 1)
	vu.sink.RecordRate(metrics.MetricMessageErrorRate, false)
	vu.received.Add(1)

	ok := msg.Message != ""
	vu.sink.RecordCheck(metrics.CheckMessageReceived, ok)
	if !ok {
		vu.logger.Warning("[VU-%d] received chat message with empty text from %q", vu.ID, msg.From)
	}

	if msg.Sent != nil {
		if delivery := time.Since(*msg.Sent); delivery >= 0 {
			vu.sink.RecordDuration(metrics.MetricMessageDeliveryTime, delivery)
		}
	}
}

// recoverFrame turns a panic while handling raw into a PROCESSING_ERROR.
func (vu *VirtualUser) recoverFrame(raw []byte) {
	if r := recover(); r != nil {
		err := loaderrors.NewProcessingError(fmt.Errorf("panic: %v", r), vu.ID, string(raw))
		vu.sink.RecordRate(metrics.MetricMessageErrorRate, true)
		vu.logger.LogInvalidFrame(vu.ID, string(raw), err)
	}
}

// thinkTime draws the pause between two chat messages from [min, max).
func (vu *VirtualUser) thinkTime() time.Duration {
	span := vu.opts.ThinkTimeMax - vu.opts.ThinkTimeMin
	if span <= 0 {
		return vu.opts.ThinkTimeMin
	}
	return vu.opts.ThinkTimeMin + time.Duration(vu.rng.Int64N(int64(span)))
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
