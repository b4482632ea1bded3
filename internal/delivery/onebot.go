package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

var ErrNoEndpoint = errors.New("no endpoint configured for bot")

// OneBot posts group messages through the OneBot v11 HTTP API, one
// endpoint per bot account.
type OneBot struct {
	endpoints map[string]string
	token     string
	client    *http.Client
}

func NewOneBot(endpoints map[string]string, token string, timeout time.Duration) *OneBot {
	eps := make(map[string]string, len(endpoints))
	for bot, url := range endpoints {
		eps[bot] = strings.TrimRight(url, "/")
	}
	return &OneBot{
		endpoints: eps,
		token:     token,
		client:    &http.Client{Timeout: timeout},
	}
}

func (o *OneBot) Active(accountID string) bool {
	_, ok := o.endpoints[accountID]
	return ok
}

type sendGroupMsg struct {
	GroupID any    `json:"group_id"`
	Message string `json:"message"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
}

func (o *OneBot) Deliver(ctx context.Context, ev domain.NotificationEvent) error {
	endpoint, ok := o.endpoints[ev.Subscriber.AccountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEndpoint, ev.Subscriber.AccountID)
	}

	body, err := json.Marshal(sendGroupMsg{
		GroupID: groupID(ev.Subscriber.GroupID),
		Message: Message(ev),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/send_group_msg", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("send_group_msg: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("send_group_msg: http %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("send_group_msg: decode response: %w", err)
	}
	if out.Retcode != 0 {
		return fmt.Errorf("send_group_msg: retcode %d: %s", out.Retcode, out.Message)
	}
	return nil
}

// groupID sends numeric ids as numbers, as OneBot implementations expect.
func groupID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
