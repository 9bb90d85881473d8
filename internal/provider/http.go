package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "cheevobot/pkg/logx"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per-call bound; 0 means 10s
	RatePerSec int           // API courtesy limit; 0 means 2
}

// HTTPClient talks to the achievement provider's JSON API. All calls share
// a token-bucket limiter so burst polling cannot trip the provider's own
// rate limits.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// wire payloads; only the consumed fields are modeled.

type gameMetaPayload struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	NumAwardable int    `json:"num_awardable"`
	Achievements []struct {
		ID   int64  `json:"id"`
		Type string `json:"type"` // "progression", "win_condition", or ""
	} `json:"achievements"`
}

type progressPayload struct {
	GameID int64 `json:"game_id"`
	Earned []struct {
		ID       int64  `json:"id"`
		EarnedAt string `json:"earned_at"`
	} `json:"earned"`
}

type activityPayload struct {
	Players []struct {
		User       string `json:"user"`
		LastPlayed string `json:"last_played"`
	} `json:"players"`
}

func (c *HTTPClient) GameMeta(ctx context.Context, gameID int64) (GameMeta, error) {
	var p gameMetaPayload
	err := c.getJSON(ctx, "game", url.Values{"g": {strconv.FormatInt(gameID, 10)}}, &p)
	if err != nil {
		return GameMeta{}, err
	}
	meta := GameMeta{
		GameID:           gameID,
		Title:            p.Title,
		AchievementTotal: p.NumAwardable,
	}
	if meta.AchievementTotal == 0 {
		meta.AchievementTotal = len(p.Achievements)
	}
	for _, a := range p.Achievements {
		switch a.Type {
		case "progression":
			meta.ProgressionIDs = append(meta.ProgressionIDs, a.ID)
		case "win_condition":
			meta.WinIDs = append(meta.WinIDs, a.ID)
		}
	}
	return meta, nil
}

func (c *HTTPClient) UserProgress(ctx context.Context, user string, gameID int64) (UserProgress, error) {
	var p progressPayload
	err := c.getJSON(ctx, "progress", url.Values{
		"g": {strconv.FormatInt(gameID, 10)},
		"u": {user},
	}, &p)
	if err != nil {
		return UserProgress{}, err
	}
	up := UserProgress{GameID: gameID, User: user, Earned: make(map[int64]time.Time, len(p.Earned))}
	for _, e := range p.Earned {
		at, _ := time.Parse(time.RFC3339, e.EarnedAt)
		up.Earned[e.ID] = at
	}
	return up, nil
}

func (c *HTTPClient) RecentlyActive(ctx context.Context, since time.Time) ([]RecentPlayer, error) {
	var p activityPayload
	err := c.getJSON(ctx, "recent", url.Values{
		"since": {since.UTC().Format(time.RFC3339)},
	}, &p)
	if err != nil {
		return nil, err
	}
	out := make([]RecentPlayer, 0, len(p.Players))
	for _, pl := range p.Players {
		at, _ := time.Parse(time.RFC3339, pl.LastPlayed)
		out = append(out, RecentPlayer{User: pl.User, LastPlayed: at})
	}
	return out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, endpoint string, q url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q.Set("y", c.cfg.APIKey)
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, endpoint, err)
	}
	return nil
}
