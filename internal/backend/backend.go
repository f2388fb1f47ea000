// Package backend talks to the web backend's video-call endpoints and fetches
// per-session ICE credentials from the relay.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/1ureka/mentorcall/internal/protocol"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.Code, e.Body)
}

// Status is the backend's view of a call.
type Status struct {
	StartedAt *time.Time // nil until the first /start
}

type statusResponse struct {
	Call struct {
		StartedAt *time.Time `json:"started_at"`
	} `json:"call"`
}

type userBody struct {
	UserID protocol.ID `json:"userId"`
}

// Options configures a Client.
type Options struct {
	BaseURL        string        // e.g. https://api.example.com/api
	CredentialsURL string        // relay credential endpoint; empty disables ICECredentials
	Token          string        // bearer token
	Timeout        time.Duration // per request, default 10s
}

// Client is the session lifecycle notifier.
type Client struct {
	http           *resty.Client
	credentialsURL string
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		rc.SetAuthToken(opts.Token)
	}

	return &Client{http: rc, credentialsURL: opts.CredentialsURL}
}

// Start marks the call as started. The backend keeps the first started_at,
// so repeated calls are harmless.
func (c *Client) Start(ctx context.Context, callID, userID protocol.ID) error {
	return c.post(ctx, "/video-call/{callId}/start", callID, userID)
}

// End marks the call as finished.
func (c *Client) End(ctx context.Context, callID, userID protocol.ID) error {
	return c.post(ctx, "/video-call/{callId}/end", callID, userID)
}

func (c *Client) post(ctx context.Context, path string, callID, userID protocol.ID) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("callId", string(callID)).
		SetBody(userBody{UserID: userID}).
		Post(path)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// Status fetches the call's start time.
func (c *Client) Status(ctx context.Context, callID protocol.ID) (Status, error) {
	var out statusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("callId", string(callID)).
		SetResult(&out).
		Get("/video-call/{callId}/status")
	if err != nil {
		return Status{}, err
	}
	if err := checkStatus(resp); err != nil {
		return Status{}, err
	}
	return Status{StartedAt: out.Call.StartedAt}, nil
}

// ICECredentials fetches short-lived ICE servers issued to userID for callID.
func (c *Client) ICECredentials(ctx context.Context, callID, userID protocol.ID) (protocol.Credentials, error) {
	if c.credentialsURL == "" {
		return protocol.Credentials{}, fmt.Errorf("no credential endpoint configured")
	}

	var out protocol.Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"callId": string(callID), "userId": string(userID)}).
		SetResult(&out).
		Get(c.credentialsURL)
	if err != nil {
		return protocol.Credentials{}, err
	}
	if err := checkStatus(resp); err != nil {
		return protocol.Credentials{}, err
	}
	return out, nil
}

func checkStatus(resp *resty.Response) error {
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
