// Package wsremote decorates a remote.Store with a websocket-backed
// Subscribe: push/pull (SaveZone/Modify/FetchZoneChanges) still go through
// the wrapped Store, but server-sent change notifications arrive over a
// persistent websocket connection instead of being synthesized locally.
// Grounded on the teacher's WebSocketHub/WebSocketMessage pattern in
// pkg/api/websocket.go (§4.7), using the teacher's direct
// gorilla/websocket dependency.
package wsremote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/multiformats/go-multiaddr"

	"github.com/khryptorgraphics/corpus-sync/internal/remote"
	"github.com/khryptorgraphics/corpus-sync/internal/telemetry"
)

// MessageType mirrors the teacher's WebSocketMessage.Type vocabulary,
// narrowed to what a change-notification stream needs.
const (
	MessageTypeChangeSet = "change_set"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypeError     = "error"
)

// Message is the wire envelope exchanged over the socket, matching the
// teacher's WebSocketMessage shape (Type/ID/Timestamp/Data/Error).
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Store decorates a remote.Store, replacing Subscribe with a real
// websocket connection to baseURL while leaving every other method to
// the wrapped implementation.
type Store struct {
	remote.Store
	baseURL *url.URL
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// New wraps next, dialing baseURL on Subscribe. baseURL is either a plain
// ws:// or wss:// URL, or a multiaddr (e.g. "/dns4/sync.example.com/tcp/9443/wss")
// — the form a peer-discovery service hands back for a replica endpoint,
// matching the teacher's use of multiaddr.Multiaddr for peer addressing in
// pkg/p2p/advanced_networking.go. A nil logger defaults to slog.Default().
func New(next remote.Store, baseURL string, logger *slog.Logger) (*Store, error) {
	u, err := parseEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	return &Store{
		Store:   next,
		baseURL: u,
		dialer:  websocket.DefaultDialer,
		logger:  telemetry.Logger(logger),
	}, nil
}

// parseEndpoint accepts either a conventional ws(s):// URL or a multiaddr
// string and returns the equivalent url.URL. Multiaddrs are recognized by
// their leading "/" component syntax.
func parseEndpoint(raw string) (*url.URL, error) {
	if !strings.HasPrefix(raw, "/") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("wsremote: parse base url: %w", err)
		}
		return u, nil
	}

	ma, err := multiaddr.NewMultiaddr(raw)
	if err != nil {
		return nil, fmt.Errorf("wsremote: parse multiaddr endpoint: %w", err)
	}
	scheme := "ws"
	if _, err := ma.ValueForProtocol(multiaddr.P_WSS); err == nil {
		scheme = "wss"
	}
	host, err := firstMultiaddrValue(ma, multiaddr.P_DNS4, multiaddr.P_DNS6, multiaddr.P_DNS, multiaddr.P_IP4, multiaddr.P_IP6)
	if err != nil {
		return nil, fmt.Errorf("wsremote: multiaddr endpoint has no host component: %w", err)
	}
	port, err := ma.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return nil, fmt.Errorf("wsremote: multiaddr endpoint has no /tcp component: %w", err)
	}
	u, err := url.Parse(fmt.Sprintf("%s://%s:%s", scheme, host, port))
	if err != nil {
		return nil, fmt.Errorf("wsremote: build url from multiaddr: %w", err)
	}
	return u, nil
}

func firstMultiaddrValue(ma multiaddr.Multiaddr, protocols ...int) (string, error) {
	for _, p := range protocols {
		if v, err := ma.ValueForProtocol(p); err == nil {
			return v, nil
		}
	}
	return "", fmt.Errorf("no matching protocol component in %s", ma)
}

// Subscribe dials a per-zone websocket endpoint and decodes incoming
// change_set messages into remote.ChangeSet values on the returned
// channel, which is closed when ctx is cancelled or the connection drops.
func (s *Store) Subscribe(ctx context.Context, zoneID string) (<-chan remote.ChangeSet, error) {
	u := *s.baseURL
	q := u.Query()
	q.Set("zone", zoneID)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindNetworkUnavailable, Err: fmt.Errorf("wsremote: dial: %w", err)}
	}

	out := make(chan remote.ChangeSet, 16)
	go s.readLoop(ctx, conn, zoneID, out)
	return out, nil
}

func (s *Store) readLoop(ctx context.Context, conn *websocket.Conn, zoneID string, out chan<- remote.ChangeSet) {
	defer close(out)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("wsremote: connection closed", "zone_id", zoneID, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("wsremote: malformed message", "zone_id", zoneID, "error", err)
			continue
		}
		switch msg.Type {
		case MessageTypeChangeSet:
			var cs remote.ChangeSet
			if err := json.Unmarshal(msg.Data, &cs); err != nil {
				s.logger.Warn("wsremote: malformed change_set payload", "zone_id", zoneID, "error", err)
				continue
			}
			select {
			case out <- cs:
			case <-ctx.Done():
				return
			}
		case MessageTypeHeartbeat:
			// liveness only, nothing to deliver.
		case MessageTypeError:
			s.logger.Warn("wsremote: server reported error", "zone_id", zoneID, "error", msg.Error)
		}
	}
}

var _ remote.Store = (*Store)(nil)
