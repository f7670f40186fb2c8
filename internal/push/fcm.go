package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
)

const (
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	defaultEndpoint = "https://fcm.googleapis.com"
	requestTimeout  = 15 * time.Second
)

// FCMOptions configures an FCMSender.
type FCMOptions struct {
	Endpoint  string            // FCM base URL, defaults to https://fcm.googleapis.com
	ProjectID string            // overrides the service account project
	Base      http.RoundTripper // transport for token and send requests
}

// FCMSender sends notifications through the FCM HTTP v1 API.
type FCMSender struct {
	client *http.Client
	url    string
	log    *zap.Logger
}

var _ Sender = (*FCMSender)(nil)

// NewFCMSender constructs a sender authenticated as the service account.
func NewFCMSender(sa *ServiceAccount, opts FCMOptions, log *zap.Logger) (*FCMSender, error) {
	if sa == nil || sa.key == nil {
		return nil, fmt.Errorf("fcm: service account is required")
	}
	project := opts.ProjectID
	if project == "" {
		project = sa.ProjectID
	}
	if project == "" {
		return nil, fmt.Errorf("fcm: project id is required")
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// the token exchange runs on the same transport as sends
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base, Timeout: requestTimeout})
	return &FCMSender{
		client: &http.Client{
			Transport: &oauth2.Transport{Source: sa.tokenConfig().TokenSource(tokenCtx), Base: base},
			Timeout:   requestTimeout,
		},
		url: endpoint + "/v1/projects/" + url.PathEscape(project) + "/messages:send",
		log: log,
	}, nil
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmMessage struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

// Send implements Sender.
func (s *FCMSender) Send(ctx context.Context, deviceToken, title, body string) error {
	payload, err := json.Marshal(fcmRequest{Message: fcmMessage{
		Token:        deviceToken,
		Notification: fcmNotification{Title: title, Body: body},
	}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", errs.ErrSend, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
