package lcu

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConnected names the not-yet-connected state. No function in this
// package returns it: a Client exists only once credentials are found.
var ErrNotConnected = errors.New("client not connected")

// restTimeout bounds each REST call.
const restTimeout = 5 * time.Second

// basicAuthUser is the fixed Basic-auth user the client expects.
const basicAuthUser = "riot"

// LCU endpoint paths consumed by the core.
const (
	pathGameflowPhase    = "/lol-gameflow/v1/gameflow-phase"
	pathChampSelect      = "/lol-champ-select/v1/session"
	pathEOGStatsBlock    = "/lol-end-of-game/v1/eog-stats-block"
	pathCurrentSummoner  = "/lol-summoner/v1/current-summoner"
)

// NewLoopbackHTTPClient builds an HTTP client that accepts the
// client's self-signed certificate. It must only ever talk to
// 127.0.0.1 — never reuse it for cloud endpoints.
func NewLoopbackHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Client is the authenticated REST capability for one set of
// credentials. It is created on connect and discarded on disconnect.
type Client struct {
	creds Credentials
	http  *http.Client
}

// NewClient builds a REST client for the given credentials.
func NewClient(creds Credentials) *Client {
	return &Client{
		creds: creds,
		http:  NewLoopbackHTTPClient(restTimeout),
	}
}

// Credentials returns a copy of the credentials backing this client.
func (c *Client) Credentials() Credentials {
	return c.creds
}

// get performs an authenticated GET and decodes the JSON body into out.
// Failures surface to the caller; the pollers absorb them per tick.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.BaseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(basicAuthUser, c.creds.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lcu request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lcu %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// GameflowPhase returns the raw phase string.
func (c *Client) GameflowPhase(ctx context.Context) (string, error) {
	var phase string
	if err := c.get(ctx, pathGameflowPhase, &phase); err != nil {
		return "", err
	}
	return phase, nil
}

// ChampSelectAction is one ban or pick in the draft action list.
type ChampSelectAction struct {
	Type        string `json:"type"`
	ActorCellID int    `json:"actorCellId"`
	ChampionID  int    `json:"championId"`
	Completed   bool   `json:"completed"`
}

// ChampSelectMember is a player on either draft team.
type ChampSelectMember struct {
	CellID     int `json:"cellId"`
	ChampionID int `json:"championId"`
}

// ChampSelectSession is the draft state the draft advisor polls.
type ChampSelectSession struct {
	Actions           [][]ChampSelectAction `json:"actions"`
	MyTeam            []ChampSelectMember   `json:"myTeam"`
	TheirTeam         []ChampSelectMember   `json:"theirTeam"`
	LocalPlayerCellID int                   `json:"localPlayerCellId"`
}

// ChampSelect returns the current draft session.
func (c *Client) ChampSelect(ctx context.Context) (*ChampSelectSession, error) {
	var s ChampSelectSession
	if err := c.get(ctx, pathChampSelect, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EOGStatsBlock returns the end-of-game scoreboard blob, opaque to the
// core; the post advisor interprets it.
func (c *Client) EOGStatsBlock(ctx context.Context) (json.RawMessage, error) {
	var blob json.RawMessage
	if err := c.get(ctx, pathEOGStatsBlock, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// Summoner is the local player's identity.
type Summoner struct {
	PUUID         string `json:"puuid"`
	GameName      string `json:"gameName"`
	TagLine       string `json:"tagLine"`
	SummonerLevel int    `json:"summonerLevel"`
}

// CurrentSummoner returns the local player's identity blob.
func (c *Client) CurrentSummoner(ctx context.Context) (*Summoner, error) {
	var s Summoner
	if err := c.get(ctx, pathCurrentSummoner, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
