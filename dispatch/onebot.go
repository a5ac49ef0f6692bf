package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OneBotResponder posts outbound messages to a OneBot HTTP API bridge.
type OneBotResponder struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client
}

func NewOneBotResponder(baseURL, accessToken string) *OneBotResponder {
	return &OneBotResponder{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}
}

type sendMessageRequest struct {
	UserID  int64     `json:"user_id,omitempty"`
	GroupID int64     `json:"group_id,omitempty"`
	Message []Segment `json:"message"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Message string `json:"message,omitempty"`
}

func (r *OneBotResponder) Send(ctx context.Context, target Target, segments []Segment) error {
	action := "/send_private_msg"
	body := sendMessageRequest{UserID: target.UserID, Message: segments}
	if target.GroupID != 0 {
		action = "/send_group_msg"
		body = sendMessageRequest{GroupID: target.GroupID, Message: segments}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+action, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.AccessToken)
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bridge http %d: %s", resp.StatusCode, string(raw))
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("bridge decode: %w", err)
	}
	if out.Retcode != 0 {
		return fmt.Errorf("bridge retcode %d: %s", out.Retcode, out.Message)
	}
	return nil
}
