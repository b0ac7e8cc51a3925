package mail

import (
	"context"
	"errors"
	"fmt"

	"inboxpal/backend"
)

const (
	unreadPath = "/api/gmail/unread-simple"
	recentPath = "/api/gmail/recent-simple"
)

// Executor runs an authenticated backend call.
type Executor interface {
	Execute(ctx context.Context, endpoint string, body map[string]any) ([]byte, error)
}

type Email struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Unread  bool   `json:"unread"`
}

type Client struct {
	exec Executor
}

func New(exec Executor) *Client {
	return &Client{exec: exec}
}

type unreadResponse struct {
	Count *int `json:"count"`
}

func (r *unreadResponse) Validate() error {
	if r.Count == nil {
		return errors.New("missing count")
	}
	if *r.Count < 0 {
		return errors.New("negative count")
	}
	return nil
}

type recentResponse struct {
	Emails []Email `json:"emails"`
}

func (r *recentResponse) Validate() error {
	if r.Emails == nil {
		return errors.New("missing emails")
	}
	for i, e := range r.Emails {
		if e.ID == "" {
			return fmt.Errorf("email %d has no id", i)
		}
	}
	return nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.exec.Execute(ctx, unreadPath, nil)
	if err != nil {
		return 0, err
	}
	var out unreadResponse
	if err := backend.Decode(body, &out); err != nil {
		return 0, err
	}
	return *out.Count, nil
}

func (c *Client) Recent(ctx context.Context) ([]Email, error) {
	body, err := c.exec.Execute(ctx, recentPath, nil)
	if err != nil {
		return nil, err
	}
	var out recentResponse
	if err := backend.Decode(body, &out); err != nil {
		return nil, err
	}
	return out.Emails, nil
}
