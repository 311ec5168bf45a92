package transport

import (
	"context"
	"sync"

	golibp2p "github.com/libp2p/go-libp2p"
	libp2phost "github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// StreamProtocol identifies this module's point-to-point stream protocol,
// distinct from the teacher's "/hmy/0.0.1" DHT protocol extension
// (p2p/ipfsutil/routing.go's Protocol) since this module speaks its own
// frame format rather than Harmony's protobuf messages.
const StreamProtocol protocol.ID = "/shardcore/1.0.0"

// Handler processes one decoded inbound frame from fromPeer. Handlers are
// registered per Type, mirroring the teacher's HandleMessageUpdate switch
// in node/node.go that routes by (type, instruction) to the node's
// per-role handling.
type Handler func(f Frame, fromPeer peer.ID)

// Host wraps a libp2p host plus a gossipsub router: Broadcast publishes to
// a topic named by shard/DS group id (§4.11), SendTo opens a direct stream
// to one peer. Grounded on the teacher's p2p/ipfsutil/routing.go (host +
// DHT construction) and node/relay/broadcast.go's group-addressed
// broadcast, generalized off the teacher's internal p2p.Host/nodeconfig
// wrapper types onto go-libp2p-pubsub directly.
type Host struct {
	host   libp2phost.Host
	pubsub *pubsub.PubSub
	logger zerolog.Logger
	dedup  *SeenCache

	mu       sync.Mutex
	topics   map[string]*pubsub.Topic
	handlers map[Type]Handler
}

// NewHost starts a libp2p host listening on listenAddr and joins gossipsub.
func NewHost(ctx context.Context, listenAddr string, dedup *SeenCache, logger zerolog.Logger) (*Host, error) {
	h, err := golibp2p.New(ctx, golibp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, errors.Wrap(err, "transport: construct libp2p host")
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, errors.Wrap(err, "transport: construct gossipsub router")
	}

	t := &Host{
		host:     h,
		pubsub:   ps,
		logger:   logger,
		dedup:    dedup,
		topics:   make(map[string]*pubsub.Topic),
		handlers: make(map[Type]Handler),
	}
	h.SetStreamHandler(StreamProtocol, t.handleStream)
	return t, nil
}

// ID returns this host's own peer identity.
func (t *Host) ID() peer.ID { return t.host.ID() }

// Connect dials a known peer, the same bootstrap step the teacher's
// NewTinderRouting performs via the DHT before any gossip traffic flows.
func (t *Host) Connect(ctx context.Context, addr peer.AddrInfo) error {
	return t.host.Connect(ctx, addr)
}

// RegisterHandler installs the handler invoked for every inbound frame of
// the given Type, whether received over a direct stream or gossipsub.
func (t *Host) RegisterHandler(typ Type, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[typ] = h
}

func (t *Host) dispatch(f Frame, from peer.ID) {
	raw := Encode(f)
	if t.dedup != nil && t.dedup.MarkSeen(raw) {
		return
	}
	t.mu.Lock()
	h, ok := t.handlers[f.Type]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug().Uint8("type", uint8(f.Type)).Msg("no handler registered for frame type")
		return
	}
	h(f, from)
}

func (t *Host) handleStream(s network.Stream) {
	defer s.Close()
	f, err := ReadFrame(s)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to read inbound frame")
		return
	}
	t.dispatch(f, s.Conn().RemotePeer())
}

// joinTopic returns the cached topic handle for groupID, joining it on
// first use.
func (t *Host) joinTopic(groupID string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if top, ok := t.topics[groupID]; ok {
		return top, nil
	}
	top, err := t.pubsub.Join(groupID)
	if err != nil {
		return nil, err
	}
	t.topics[groupID] = top
	return top, nil
}

// Broadcast publishes f to every peer subscribed to groupID (a shard or DS
// committee group, per §4.11).
func (t *Host) Broadcast(ctx context.Context, groupID string, f Frame) error {
	top, err := t.joinTopic(groupID)
	if err != nil {
		return errors.Wrap(err, "transport: join topic")
	}
	return top.Publish(ctx, Encode(f))
}

// Subscribe begins listening to groupID's gossipsub topic, pushing every
// received frame through the same dispatch path as a direct stream.
func (t *Host) Subscribe(ctx context.Context, groupID string) error {
	top, err := t.joinTopic(groupID)
	if err != nil {
		return errors.Wrap(err, "transport: join topic")
	}
	sub, err := top.Subscribe()
	if err != nil {
		return errors.Wrap(err, "transport: subscribe topic")
	}
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				t.logger.Debug().Err(err).Str("topic", groupID).Msg("subscription ended")
				return
			}
			f, err := Decode(msg.Data)
			if err != nil {
				t.logger.Warn().Err(err).Str("topic", groupID).Msg("dropped malformed gossip frame")
				continue
			}
			t.dispatch(f, msg.GetFrom())
		}
	}()
	return nil
}

// SendTo opens a direct stream to target and writes a single frame,
// bypassing gossipsub for point-to-point traffic (e.g. a consensus cs1/cs2
// vote addressed to one leader).
func (t *Host) SendTo(ctx context.Context, target peer.ID, f Frame) error {
	s, err := t.host.NewStream(ctx, target, StreamProtocol)
	if err != nil {
		return errors.Wrap(err, "transport: open stream")
	}
	defer s.Close()
	return WriteFrame(s, f)
}

// Close tears down the host and all its topic subscriptions.
func (t *Host) Close() error {
	return t.host.Close()
}
