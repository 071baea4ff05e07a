package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/rs/zerolog/log"
)

const recentChanges = 512

// ErrClientClosed is returned by calls on a closed Client.
var ErrClientClosed = errors.New("gateway client closed")

// Client implements relay.Relay over a gateway WebSocket connection.
// Subscriptions with equal filters share one gateway subscription; changes
// fan out to local subscribers through a relay.Bus.
type Client struct {
	conn  *websocket.Conn
	local *relay.Bus

	writeMu sync.Mutex
	subMu   sync.Mutex // serialises Subscribe and Unsubscribe

	mu      sync.Mutex
	nextID  uint64
	pending map[string]chan ServerFrame
	remote  map[string]*remoteSub
	handles map[relay.Handle]string
	seen    map[string]struct{}
	order   []string

	done chan struct{}
}

type remoteSub struct {
	id   string
	refs int
}

var _ relay.Relay = (*Client)(nil)

// Dial connects to the gateway endpoint (for example ws://host:8081/ws)
// for room. username may be empty for a watcher.
func Dial(ctx context.Context, endpoint, room, username string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("room", models.NormalizeRoomCode(room))
	if username != "" {
		q.Set("username", username)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, apperr.Unavailable("dial gateway", err)
	}

	c := &Client{
		conn:    conn,
		local:   relay.NewBus(),
		pending: make(map[string]chan ServerFrame),
		remote:  make(map[string]*remoteSub),
		handles: make(map[relay.Handle]string),
		seen:    make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	log.Debug().Str("url", u.String()).Msg("gateway connected")
	return c, nil
}

// Subscribe registers onChange for changes matching filter.
func (c *Client) Subscribe(ctx context.Context, filter relay.Filter, onChange func(models.Change)) (relay.Handle, error) {
	if err := filter.Validate(); err != nil {
		return "", fmt.Errorf("invalid filter: %w", err)
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()

	h, err := c.local.Subscribe(ctx, filter, onChange)
	if err != nil {
		return "", err
	}

	key := filter.Key()
	c.mu.Lock()
	rs, ok := c.remote[key]
	if !ok {
		c.nextID++
		rs = &remoteSub{id: strconv.FormatUint(c.nextID, 10)}
	}
	c.mu.Unlock()

	if !ok {
		if _, err := c.request(ctx, ClientFrame{Type: FrameSubscribe, ID: rs.id, Filter: &filter}); err != nil {
			_ = c.local.Unsubscribe(h)
			return "", err
		}
	}

	c.mu.Lock()
	rs.refs++
	c.remote[key] = rs
	c.handles[h] = key
	c.mu.Unlock()
	return h, nil
}

// Unsubscribe stops delivery for handle and drops the gateway
// subscription once no local subscriber uses it.
func (c *Client) Unsubscribe(handle relay.Handle) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	key, ok := c.handles[handle]
	delete(c.handles, handle)
	var rs *remoteSub
	if ok {
		rs = c.remote[key]
		rs.refs--
		if rs.refs <= 0 {
			delete(c.remote, key)
		} else {
			rs = nil
		}
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %q", handle)
	}

	if err := c.local.Unsubscribe(handle); err != nil {
		return err
	}
	if rs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.request(ctx, ClientFrame{Type: FrameUnsubscribe, ID: rs.id})
	if errors.Is(err, ErrClientClosed) {
		return nil
	}
	return err
}

// Wait blocks until every received change has been delivered.
func (c *Client) Wait() {
	c.local.Wait()
}

// Close closes the connection and stops local delivery.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	_ = c.local.Close()
	return err
}

func (c *Client) request(ctx context.Context, frame ClientFrame) (ServerFrame, error) {
	reply := make(chan ServerFrame, 1)
	c.mu.Lock()
	c.pending[frame.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(frame)
	if err != nil {
		return ServerFrame{}, fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		select {
		case <-c.done:
			return ServerFrame{}, ErrClientClosed
		default:
		}
		return ServerFrame{}, apperr.Unavailable("write gateway frame", err)
	}

	select {
	case res := <-reply:
		if res.Type == FrameError {
			return res, fmt.Errorf("gateway rejected %s %s: %s", frame.Type, frame.ID, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return ServerFrame{}, ctx.Err()
	case <-c.done:
		return ServerFrame{}, ErrClientClosed
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("gateway connection lost")
			}
			return
		}

		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error().Err(err).Msg("dropping malformed gateway frame")
			continue
		}

		switch frame.Type {
		case FrameChange:
			if frame.Change == nil || !c.firstSighting(frame.Change.ID.String()) {
				continue
			}
			if err := c.local.Publish(context.Background(), *frame.Change); err != nil {
				log.Debug().Err(err).Msg("local delivery stopped")
			}
		default:
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- frame:
				default:
				}
			} else if frame.Type == FrameError {
				log.Warn().Str("id", frame.ID).Str("error", frame.Error).Msg("gateway error")
			}
		}
	}
}

// firstSighting deduplicates a change delivered through several
// overlapping gateway subscriptions.
func (c *Client) firstSighting(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > recentChanges {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	return true
}
