// Package ws 提供到后端的 STOMP over WebSocket 客户端会话：一条物理连接复用所有主题，
// 负责 CONNECT 握手、心跳、固定间隔重连，以及重连后透明地恢复全部订阅。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go-imsync/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("ws: session not connected")
	ErrClosed       = errors.New("ws: session closed")
)

// State 会话级连接状态；致命错误只体现为状态变化，不会向上抛出
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Credentials 连接凭据：token 放入 CONNECT 帧的 Authorization 头
type Credentials struct {
	Token  string
	Header http.Header // 额外的握手 HTTP 头
}

type Options struct {
	URL              string
	ReconnectDelay   time.Duration // 固定重连间隔，默认 5s
	HeartbeatOut     time.Duration // 0 表示不发送心跳
	HeartbeatIn      time.Duration // 0 表示不检测服务端心跳
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	BackOff          backoff.BackOff // 为空时使用 ConstantBackOff(ReconnectDelay)
	Logger           *zap.Logger
}

// Message 一条 MESSAGE 帧
type Message struct {
	Destination    string
	SubscriptionID string
	Header         *frame.Header
	Body           []byte
}

// Decode 将消息体按 JSON 解码
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Destination, err)
	}
	return nil
}

// Handler 返回错误视为该帧畸形：记录并丢弃，不影响会话
type Handler func(*Message) error

// Subscription 订阅句柄
type Subscription struct {
	id      string
	topic   string
	handler Handler
}

func (s *Subscription) ID() string    { return s.id }
func (s *Subscription) Topic() string { return s.topic }

type Session struct {
	opts  Options
	creds Credentials
	log   *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	subs      map[string]*Subscription
	nextID    uint64
	listeners []func(State)
	closed    bool

	// gorilla/websocket 只允许一个并发写者
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Connect 创建会话并在后台建立连接，断线后按固定间隔重连，直到 Close。
// 返回时连接可能尚未建立，订阅会在连上后自动发送。
func Connect(ctx context.Context, opts Options, creds Credentials) (*Session, error) {
	if opts.URL == "" {
		return nil, errors.New("ws: empty url")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("ws: parse url: %w", err)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	if opts.BackOff == nil {
		opts.BackOff = backoff.NewConstantBackOff(opts.ReconnectDelay)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:   opts,
		creds:  creds,
		log:    opts.Logger,
		subs:   make(map[string]*Subscription),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

// State 当前连接状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange 注册状态监听；回调在会话 goroutine 中执行，应尽快返回
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	ls := append([]func(State){}, s.listeners...)
	s.mu.Unlock()
	metrics.ConnectionState.Set(float64(st))
	s.log.Info("session state", zap.Stringer("state", st))
	for _, fn := range ls {
		fn(st)
	}
}

// Subscribe 登记订阅；已连接时立即发送 SUBSCRIBE，否则在连上后发送
func (s *Session) Subscribe(topic string, h Handler) (*Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	sub := &Subscription{id: fmt.Sprintf("sub-%d", s.nextID), topic: topic, handler: h}
	s.subs[sub.id] = sub
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.writeFrame(conn, subscribeFrame(sub)); err != nil {
			// 连接已坏，重连后会补发
			s.log.Warn("subscribe send failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	s.log.Debug("subscribed", zap.String("topic", topic), zap.String("id", sub.id))
	return sub, nil
}

// Unsubscribe 幂等取消订阅。UNSUBSCRIBE 送达前仍可能有在途帧，调用方需自行判断列表是否仍活跃。
func (s *Session) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	s.mu.Lock()
	if _, ok := s.subs[sub.id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.subs, sub.id)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.writeFrame(conn, frame.New(frame.UNSUBSCRIBE, frame.Id, sub.id))
}

// Publish 以 JSON 发送到目标地址；未连接时返回 ErrNotConnected
func (s *Session) Publish(ctx context.Context, destination string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		metrics.PublishTotal.WithLabelValues(destination, "not_connected").Inc()
		return ErrNotConnected
	}
	f := frame.New(frame.SEND, frame.Destination, destination, frame.ContentType, "application/json")
	f.Body = body
	if err := s.writeFrame(conn, f); err != nil {
		metrics.PublishTotal.WithLabelValues(destination, "error").Inc()
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	metrics.PublishTotal.WithLabelValues(destination, "ok").Inc()
	return nil
}

// Close 主动断开，之后不再重连
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = s.writeFrame(conn, frame.New(frame.DISCONNECT))
	}
	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-s.done
	s.setState(StateClosed)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	s.setState(StateConnecting)
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("connection lost", zap.Error(err))
		s.setState(StateReconnecting)

		delay := s.opts.BackOff.NextBackOff()
		if delay == backoff.Stop {
			s.setState(StateDisconnected)
			return
		}
		metrics.ReconnectsTotal.Inc()
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// connectOnce 建立一次连接并阻塞在读循环上，连接断开时返回
func (s *Session) connectOnce(ctx context.Context) error {
	header := http.Header{}
	for k, v := range s.creds.Header {
		header[k] = v
	}
	conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sendEvery, expectEvery, err := s.handshake(conn)
	if err != nil {
		return err
	}

	// 设置连接与拿订阅快照在同一把锁内完成，避免并发 Subscribe 重复发送
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.conn = conn
	pending := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		pending = append(pending, sub)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	for _, sub := range pending {
		if err := s.writeFrame(conn, subscribeFrame(sub)); err != nil {
			return fmt.Errorf("resubscribe %s: %w", sub.topic, err)
		}
	}
	s.opts.BackOff.Reset()
	s.setState(StateConnected)

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	if sendEvery > 0 {
		go s.heartbeatLoop(connCtx, conn, sendEvery)
	}
	return s.readLoop(conn, expectEvery)
}

// handshake 发送 CONNECT 并等待 CONNECTED，返回协商后的心跳收发间隔
func (s *Session) handshake(conn *websocket.Conn) (time.Duration, time.Duration, error) {
	host := "/"
	if u, err := url.Parse(s.opts.URL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	hb := fmt.Sprintf("%d,%d", s.opts.HeartbeatOut.Milliseconds(), s.opts.HeartbeatIn.Milliseconds())
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1",
		frame.Host, host,
		frame.HeartBeat, hb,
	)
	if s.creds.Token != "" {
		connect.Header.Add("Authorization", "Bearer "+s.creds.Token)
	}
	if err := s.writeFrame(conn, connect); err != nil {
		return 0, 0, fmt.Errorf("send CONNECT: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, fmt.Errorf("await CONNECTED: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return 0, 0, fmt.Errorf("await CONNECTED: %w", err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				sx, sy := parseHeartBeat(f.Header.Get(frame.HeartBeat))
				return negotiate(s.opts.HeartbeatOut, sy), negotiate(s.opts.HeartbeatIn, sx), nil
			case frame.ERROR:
				return 0, 0, fmt.Errorf("server rejected CONNECT: %s %s", f.Header.Get(frame.Message), string(f.Body))
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn, expectEvery time.Duration) error {
	for {
		if expectEvery > 0 {
			// 容忍一次心跳丢失
			_ = conn.SetReadDeadline(time.Now().Add(2 * expectEvery))
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		frames, err := decodeFrames(data)
		if err != nil {
			metrics.MalformedFramesTotal.WithLabelValues("unknown").Inc()
			s.log.Warn("malformed frame dropped", zap.Error(err), zap.Int("size", len(data)))
			continue
		}
		for _, f := range frames {
			if err := s.dispatch(f); err != nil {
				return err
			}
		}
	}
}

// dispatch 处理单个帧；只有服务端 ERROR 帧会结束当前连接
func (s *Session) dispatch(f *frame.Frame) error {
	metrics.FramesTotal.WithLabelValues(f.Command).Inc()
	switch f.Command {
	case frame.MESSAGE:
		id := f.Header.Get(frame.Subscription)
		s.mu.Lock()
		sub := s.subs[id]
		s.mu.Unlock()
		dest := f.Header.Get(frame.Destination)
		if sub == nil {
			// 已取消订阅后仍在途的帧
			s.log.Debug("frame for unknown subscription", zap.String("subscription", id), zap.String("destination", dest))
			return nil
		}
		msg := &Message{Destination: dest, SubscriptionID: id, Header: f.Header, Body: f.Body}
		if err := s.invoke(sub, msg); err != nil {
			metrics.MalformedFramesTotal.WithLabelValues(sub.topic).Inc()
			s.log.Warn("push dropped", zap.String("topic", sub.topic), zap.Error(err))
		}
	case frame.ERROR:
		return fmt.Errorf("server error frame: %s %s", f.Header.Get(frame.Message), string(f.Body))
	case frame.RECEIPT, frame.CONNECTED:
	default:
		s.log.Debug("unexpected frame", zap.String("command", f.Command))
	}
	return nil
}

func (s *Session) invoke(sub *Subscription, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(msg)
}

func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.writeRaw(conn, []byte("\n")); err != nil {
				s.log.Debug("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	b, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.writeRaw(conn, b)
}

func (s *Session) writeRaw(conn *websocket.Conn, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func subscribeFrame(sub *Subscription) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, sub.id,
		frame.Destination, sub.topic,
		frame.Ack, "auto",
	)
}
