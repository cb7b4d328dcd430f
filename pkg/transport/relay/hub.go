package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	stash "github.com/goliatone/go-stash"
	"github.com/goliatone/go-stash/layering"
	"github.com/goliatone/go-stash/pkg/storage"
	"github.com/goliatone/go-stash/pkg/syncer"
)

// DefaultStreamBuffer is how many broadcasts a slow subscriber may lag behind
// before messages to it are dropped.
const DefaultStreamBuffer = 64

// Hub serves a storage.Adapter to remote clients and fans broadcasts out to
// remote streams and in-process subscribers alike.
type Hub struct {
	adapter storage.Adapter
	area    string
	buffer  int
	logger  *zap.Logger

	mu      sync.RWMutex
	local   []*localSubscription
	streams map[*streamSubscription]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

type localSubscription struct {
	fn func(syncer.Message)
}

type streamSubscription struct {
	name string
	ch   chan syncer.Message
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubArea sets the area whose keys are stored unprefixed. Keys of other
// areas are namespaced with storage.NamespacedKey.
func WithHubArea(area string) HubOption {
	return func(h *Hub) {
		if strings.TrimSpace(area) != "" {
			h.area = strings.TrimSpace(area)
		}
	}
}

func WithStreamBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

var (
	_ syncer.Transport = (*Hub)(nil)
	_ RelayServer      = (*hubService)(nil)
)

func NewHub(adapter storage.Adapter, opts ...HubOption) (*Hub, error) {
	if adapter == nil {
		return nil, errors.New("relay: hub adapter is nil")
	}
	h := &Hub{
		adapter: adapter,
		area:    stash.DefaultArea,
		buffer:  DefaultStreamBuffer,
		logger:  zap.NewNop(),
		streams: map[*streamSubscription]struct{}{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register installs the relay service on a gRPC server.
func (h *Hub) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&ServiceDesc, &hubService{hub: h})
}

// Area returns the area whose keys are stored unprefixed.
func (h *Hub) Area() string {
	return h.area
}

// Publish broadcasts msg to every subscriber, the in-process ones included.
func (h *Hub) Publish(ctx context.Context, msg syncer.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return syncer.ErrClosed
	default:
	}
	h.fanout(msg)
	return nil
}

// Subscribe registers an in-process handler.
func (h *Hub) Subscribe(handler func(syncer.Message)) (func(), error) {
	if handler == nil {
		return nil, syncer.ErrNilHandler
	}
	sub := &localSubscription{fn: handler}
	h.mu.Lock()
	h.local = append(h.local, sub)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, candidate := range h.local {
				if candidate == sub {
					h.local = append(h.local[:i:i], h.local[i+1:]...)
					return
				}
			}
		})
	}, nil
}

// Streams returns the number of connected remote subscribers.
func (h *Hub) Streams() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// Close ends every remote stream. In-process subscribers stay registered but
// receive nothing further.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	return nil
}

func (h *Hub) fanout(msg syncer.Message) {
	h.mu.RLock()
	local := make([]func(syncer.Message), 0, len(h.local))
	for _, sub := range h.local {
		local = append(local, sub.fn)
	}
	for sub := range h.streams {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("relay subscriber lagging, message dropped",
				zap.String("subscriber", sub.name),
				zap.String("key", msg.Key),
				zap.Uint64("version", msg.Version),
			)
		}
	}
	h.mu.RUnlock()

	for _, fn := range local {
		copied := msg
		copied.State = layering.Clone(msg.State)
		fn(copied)
	}
}

func (h *Hub) storageKey(area, key string) (string, error) {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return "", err
	}
	area = strings.TrimSpace(area)
	if area == "" || area == h.area {
		return key, nil
	}
	return storage.NamespacedKey(area, key), nil
}

// hubService adapts Hub to the gRPC handler surface.
type hubService struct {
	hub *Hub
}

func (s *hubService) GetItem(ctx context.Context, req *ItemRequest) (*ItemResponse, error) {
	key, err := s.hub.storageKey(req.Area, req.Key)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	value, err := s.hub.adapter.GetItem(ctx, key)
	if err != nil {
		s.hub.logger.Warn("relay get failed", zap.String("key", key), zap.Error(err))
		return nil, status.Errorf(codes.Unavailable, "get %q: %v", key, err)
	}
	return &ItemResponse{Value: value}, nil
}

func (s *hubService) SetItem(ctx context.Context, req *ItemRequest) (*Empty, error) {
	key, err := s.hub.storageKey(req.Area, req.Key)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.hub.adapter.SetItem(ctx, key, req.Value); err != nil {
		s.hub.logger.Warn("relay set failed", zap.String("key", key), zap.Error(err))
		return nil, status.Errorf(codes.Unavailable, "set %q: %v", key, err)
	}
	return &Empty{}, nil
}

func (s *hubService) RemoveItem(ctx context.Context, req *ItemRequest) (*Empty, error) {
	key, err := s.hub.storageKey(req.Area, req.Key)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.hub.adapter.RemoveItem(ctx, key); err != nil {
		s.hub.logger.Warn("relay remove failed", zap.String("key", key), zap.Error(err))
		return nil, status.Errorf(codes.Unavailable, "remove %q: %v", key, err)
	}
	return &Empty{}, nil
}

func (s *hubService) Publish(ctx context.Context, req *PublishRequest) (*Empty, error) {
	if strings.TrimSpace(req.Message.Key) == "" {
		return nil, status.Error(codes.InvalidArgument, "message key is required")
	}
	if err := s.hub.Publish(ctx, req.Message); err != nil {
		if errors.Is(err, syncer.ErrClosed) {
			return nil, status.Error(codes.Unavailable, "hub closed")
		}
		return nil, status.FromContextError(err).Err()
	}
	return &Empty{}, nil
}

func (s *hubService) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	h := s.hub
	sub := &streamSubscription{
		name: req.Name,
		ch:   make(chan syncer.Message, h.buffer),
	}
	h.mu.Lock()
	h.streams[sub] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.streams, sub)
		h.mu.Unlock()
	}()

	h.logger.Debug("relay subscriber connected", zap.String("subscriber", sub.name))
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("relay subscriber gone", zap.String("subscriber", sub.name))
			return nil
		case <-h.done:
			return status.Error(codes.Unavailable, "hub closed")
		case msg := <-sub.ch:
			if err := stream.SendMsg(&msg); err != nil {
				return fmt.Errorf("relay: send to %q: %w", sub.name, err)
			}
		}
	}
}
