// Package transport implements the concrete HTTPClient the beacon
// assembler sends through: a net/http-based client with short-lived JWT
// bearer auth, a dedicated wire-level zerolog tracer, and a per-request
// timeout (http.Client.Timeout). It performs no internal retry —
// the cache's rollback-on-failure is the retry mechanism, one tier up.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/openkit-go/beacon-agent/internal/beacon"
)

// Config holds the operational parameters for a Client: where to send
// beacons/status polls, and how to authenticate.
type Config struct {
	BaseURL       string
	JWTSecret     []byte
	Timeout       time.Duration
	ServerID      int
	ApplicationID string
	AgentVersion  string
}

// Client implements beacon.HTTPClient against net/http.
type Client struct {
	cfg  Config
	http *http.Client
	log  logrus.FieldLogger
	wire zerolog.Logger
}

// NewClient builds a Client from cfg. wireLog is the zerolog sink used
// for request/response tracing (separate from the logrus app logger);
// pass zerolog.Nop() to disable it.
func NewClient(cfg Config, log logrus.FieldLogger, wireLog zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.WithField("component", "transport"),
		wire: wireLog.With().Str("component", "transport-wire").Logger(),
	}
}

var _ beacon.HTTPClient = (*Client)(nil)

// SendStatusRequest implements beacon.HTTPClient.
func (c *Client) SendStatusRequest(ctx context.Context, extraParams map[string]string) *beacon.StatusResponse {
	return c.do(ctx, "GET", "/status", nil, "", extraParams)
}

// SendBeaconRequest implements beacon.HTTPClient.
func (c *Client) SendBeaconRequest(ctx context.Context, clientIP string, body []byte, extraParams map[string]string) *beacon.StatusResponse {
	return c.do(ctx, "POST", "/beacon", body, clientIP, extraParams)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, clientIP string, extraParams map[string]string) *beacon.StatusResponse {
	reqURL, err := c.buildURL(path, extraParams)
	if err != nil {
		c.log.WithError(err).Error("transport: failed to build request URL")
		return &beacon.StatusResponse{Err: err}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		c.log.WithError(err).Error("transport: failed to build request")
		return &beacon.StatusResponse{Err: err}
	}

	if clientIP != "" {
		req.Header.Set("X-Client-IP", clientIP)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if len(c.cfg.JWTSecret) > 0 {
		token, err := c.signToken()
		if err != nil {
			c.log.WithError(err).Error("transport: failed to sign bearer token")
			return &beacon.StatusResponse{Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.wire.Debug().Str("method", method).Str("url", reqURL).Int("body_bytes", len(body)).Msg("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		c.wire.Debug().Err(err).Msg("request failed")
		c.log.WithError(err).Warn("transport: request failed")
		return &beacon.StatusResponse{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	c.wire.Debug().Int("status", resp.StatusCode).Int("response_bytes", len(respBody)).Msg("received response")

	status := &beacon.StatusResponse{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 400 {
		c.log.WithField("status", resp.StatusCode).Warn("transport: collector returned an error status")
		return status
	}

	patch, err := parseServerConfigPatch(respBody)
	if err != nil {
		c.wire.Debug().Err(err).Msg("failed to parse server config patch")
	} else {
		status.ServerConfig = patch
	}

	c.log.WithField("status", resp.StatusCode).Info("transport: request succeeded")

	return status
}

func (c *Client) buildURL(path string, extraParams map[string]string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = u.Path + path

	q := u.Query()
	q.Set("app", c.cfg.ApplicationID)
	q.Set("va", c.cfg.AgentVersion)
	if c.cfg.ServerID != 0 {
		q.Set("srvid", fmt.Sprintf("%d", c.cfg.ServerID))
	}
	for k, v := range extraParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// signToken mints a short-lived HS256 bearer token, regenerated on every
// call so a leaked token has minimal useful lifetime.
func (c *Client) signToken() (string, error) {
	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(c.cfg.Timeout + 30*time.Second).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(c.cfg.JWTSecret)
}
