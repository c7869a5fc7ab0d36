package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/astromechza/timeline/pkg/timeline"
)

// Client is the HTTP and websocket implementation of Store.
type Client struct {
	baseURL *url.URL
	http    *resty.Client
	dialer  *websocket.Dialer
}

// apiError mirrors the server's JSON error body.
type apiError struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	return &Client{
		baseURL: u,
		http: resty.New().
			SetBaseURL(u.String()).
			SetTimeout(15 * time.Second).
			SetHeader("Accept", "application/json"),
		dialer: websocket.DefaultDialer,
	}, nil
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	r := c.http.R().SetContext(ctx).SetError(&apiError{})
	if token != "" {
		r.SetAuthToken(token)
	}
	return r
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
		msg = e.Message
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), msg)
	}
}

func (c *Client) SignIn(ctx context.Context, email string) (*Credentials, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	out := new(Credentials)
	if err := checkResponse(c.request(ctx, "").
		SetBody(map[string]string{"email": email}).
		SetResult(out).
		Post("/api/sessions")); err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	return out, nil
}

func (c *Client) SignOut(ctx context.Context, token string) error {
	if err := checkResponse(c.request(ctx, token).Delete("/api/sessions")); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (c *Client) GetTimeline(ctx context.Context, token, ownerUID string) (*timeline.Document, error) {
	out := new(timeline.Document)
	if err := checkResponse(c.request(ctx, token).
		SetPathParam("uid", ownerUID).
		SetResult(out).
		Get("/api/timelines/{uid}")); err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	return out, nil
}

func (c *Client) PutTimeline(ctx context.Context, token, ownerUID string, entries []timeline.Entry) (*timeline.Document, error) {
	if entries == nil {
		entries = []timeline.Entry{}
	}
	out := new(timeline.Document)
	if err := checkResponse(c.request(ctx, token).
		SetPathParam("uid", ownerUID).
		SetBody(map[string]interface{}{"entries": entries}).
		SetResult(out).
		Put("/api/timelines/{uid}")); err != nil {
		return nil, fmt.Errorf("failed to write timeline: %w", err)
	}
	return out, nil
}

func (c *Client) PutShare(ctx context.Context, token, viewerEmail string) (*Share, error) {
	email, err := NormalizeEmail(viewerEmail)
	if err != nil {
		return nil, err
	}
	out := new(Share)
	if err := checkResponse(c.request(ctx, token).
		SetPathParam("email", email).
		SetResult(out).
		Put("/api/shares/{email}")); err != nil {
		return nil, fmt.Errorf("failed to share: %w", err)
	}
	return out, nil
}

func (c *Client) GetShare(ctx context.Context, token, viewerEmail string) (*Share, error) {
	email, err := NormalizeEmail(viewerEmail)
	if err != nil {
		return nil, err
	}
	out := new(Share)
	if err := checkResponse(c.request(ctx, token).
		SetPathParam("email", email).
		SetResult(out).
		Get("/api/shares/{email}")); err != nil {
		return nil, fmt.Errorf("failed to look up share: %w", err)
	}
	return out, nil
}

type subscription struct {
	conn   *websocket.Conn
	once   sync.Once
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe dials the push feed for ownerUID. Documents are delivered on a dedicated
// goroutine until the subscription is closed or the connection breaks.
func (c *Client) Subscribe(ctx context.Context, token, ownerUID string, l Listener) (Subscription, error) {
	u := c.baseURL.JoinPath("api", "timelines", ownerUID, "subscribe")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("failed to subscribe: %w", ErrUnauthorized)
			case http.StatusNotFound:
				return nil, fmt.Errorf("failed to subscribe: %w", ErrNotFound)
			}
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	s := &subscription{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for {
			doc, err := ReadDocument(conn)
			if err != nil {
				if s.isClosed() {
					return
				}
				_ = conn.Close()
				var ce *websocket.CloseError
				if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
					err = fmt.Errorf("feed closed by server: %w", err)
				}
				slog.Warn("push feed ended", "owner", ownerUID, "err", err)
				if l.OnError != nil {
					l.OnError(err)
				}
				return
			}
			if l.OnDocument != nil {
				l.OnDocument(doc)
			}
		}
	}()
	return s, nil
}
