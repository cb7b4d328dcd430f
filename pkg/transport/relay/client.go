package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	stash "github.com/goliatone/go-stash"
	"github.com/goliatone/go-stash/pkg/storage"
	"github.com/goliatone/go-stash/pkg/syncer"
)

// DefaultReconnectDelay is the pause between broken subscribe streams.
const DefaultReconnectDelay = 250 * time.Millisecond

// Client reaches a Hub. It is a storage.Adapter for one area and a
// syncer.Transport over the hub's broadcast stream.
type Client struct {
	conn      *grpc.ClientConn
	ownsConn  bool
	area      string
	name      string
	reconnect time.Duration
	logger    *zap.Logger

	mu      sync.RWMutex
	subs    []*clientSubscription
	started bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type clientSubscription struct {
	fn func(syncer.Message)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientArea sets the area sent with every storage call.
func WithClientArea(area string) ClientOption {
	return func(c *Client) {
		if strings.TrimSpace(area) != "" {
			c.area = strings.TrimSpace(area)
		}
	}
}

// WithClientName labels this client's stream in hub logs.
func WithClientName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.reconnect = d
		}
	}
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

var (
	_ storage.Adapter  = (*Client)(nil)
	_ syncer.Transport = (*Client)(nil)
)

// Dial connects to the hub at target without transport security. Extra dial
// options are appended, so callers can swap credentials or the dialer.
func Dial(target string, dialOpts []grpc.DialOption, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("relay: target is required")
	}
	all := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, dialOpts...)
	conn, err := grpc.NewClient(target, all...)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", target, err)
	}
	c := NewClient(conn, opts...)
	c.ownsConn = true
	return c, nil
}

// NewClient wraps an existing connection. The caller keeps ownership of conn.
func NewClient(conn *grpc.ClientConn, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:      conn,
		area:      stash.DefaultArea,
		reconnect: DefaultReconnectDelay,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) GetItem(ctx context.Context, key string) (any, error) {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return nil, err
	}
	out := new(ItemResponse)
	if err := c.invoke(ctx, methodGetItem, &ItemRequest{Area: c.area, Key: key}, out); err != nil {
		return nil, fmt.Errorf("relay: get %q: %w", key, err)
	}
	return out.Value, nil
}

func (c *Client) SetItem(ctx context.Context, key string, value any) error {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return err
	}
	if err := c.invoke(ctx, methodSetItem, &ItemRequest{Area: c.area, Key: key, Value: value}, new(Empty)); err != nil {
		return fmt.Errorf("relay: set %q: %w", key, err)
	}
	return nil
}

func (c *Client) RemoveItem(ctx context.Context, key string) error {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return err
	}
	if err := c.invoke(ctx, methodRemoveItem, &ItemRequest{Area: c.area, Key: key}, new(Empty)); err != nil {
		return fmt.Errorf("relay: remove %q: %w", key, err)
	}
	return nil
}

// Publish sends msg to the hub, which fans it out to every subscriber
// including this client.
func (c *Client) Publish(ctx context.Context, msg syncer.Message) error {
	if err := c.invoke(ctx, methodPublish, &PublishRequest{Message: msg}, new(Empty)); err != nil {
		return fmt.Errorf("relay: publish %q: %w", msg.Key, err)
	}
	return nil
}

// Subscribe registers handler. The first subscription opens the broadcast
// stream; it reconnects until Close.
func (c *Client) Subscribe(handler func(syncer.Message)) (func(), error) {
	if handler == nil {
		return nil, syncer.ErrNilHandler
	}
	if c.ctx.Err() != nil {
		return nil, syncer.ErrClosed
	}
	sub := &clientSubscription{fn: handler}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	if !c.started {
		c.started = true
		c.wg.Add(1)
		go c.streamLoop()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, candidate := range c.subs {
				if candidate == sub {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}, nil
}

// Close stops the broadcast stream and, for dialed clients, the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		if c.ownsConn {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) streamLoop() {
	defer c.wg.Done()
	for {
		err := c.receive()
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("relay stream broken, reconnecting", zap.Duration("delay", c.reconnect), zap.Error(err))
		timer := time.NewTimer(c.reconnect)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) receive() error {
	stream, err := c.conn.NewStream(c.ctx, &ServiceDesc.Streams[0], methodSubscribe, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&SubscribeRequest{Name: c.name}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var msg syncer.Message
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg syncer.Message) {
	c.mu.RLock()
	handlers := make([]func(syncer.Message), 0, len(c.subs))
	for _, sub := range c.subs {
		handlers = append(handlers, sub.fn)
	}
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
}
