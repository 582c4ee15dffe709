// Package spotify queues tracks on the broadcaster's active Spotify device.
package spotify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatqueue/backend/dispatch"
	"github.com/onnwee/chatqueue/backend/oauth"
)

// DefaultAPIBase is the Spotify Web API root.
const DefaultAPIBase = "https://api.spotify.com"

// Client is a Spotify Web API client authorized by the stored "spotify" token.
type Client struct {
	APIBase string
	hc      *http.Client
	log     *slog.Logger
}

// New returns a Client whose requests carry the stored token, refreshed on
// expiry through cfg and persisted back to store.
func New(ctx context.Context, cfg *oauth2.Config, store oauth.Store) *Client {
	src := oauth.StoredTokenSource(ctx, cfg, store, oauth.ProviderSpotify)
	hc := oauth2.NewClient(ctx, src)
	hc.Timeout = 10 * time.Second
	return &Client{
		APIBase: DefaultAPIBase,
		hc:      hc,
		log:     slog.Default().With(slog.String("component", "spotify")),
	}
}

// EnqueueTrack adds spotify:track:<trackID> to the playback queue. Errors are
// reported as a "music" client error.
func (c *Client) EnqueueTrack(ctx context.Context, trackID string) error {
	if err := c.enqueue(ctx, trackID); err != nil {
		return dispatch.Client("music", err)
	}
	c.log.Info("track queued", slog.String("track_id", trackID))
	return nil
}

func (c *Client) enqueue(ctx context.Context, trackID string) error {
	q := url.Values{}
	q.Set("uri", "spotify:track:"+trackID)
	endpoint := strings.TrimRight(c.APIBase, "/") + "/v1/me/player/queue?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("spotify queue failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}
