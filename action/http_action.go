package action

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/weftlabs/weft/model"
)

// httpAction posts the step input as JSON to a fixed URL and returns the
// decoded JSON response. The dispatch key travels as an Idempotency-Key
// header so the remote side can deduplicate re-dispatched invocations.
type httpAction struct {
	name   string
	url    string
	client *http.Client
}

var _ Action = new(httpAction)

func NewHttpAction(name string, url string, timeout time.Duration) *httpAction {
	return &httpAction{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (a *httpAction) Name() string { return a.name }

func (a *httpAction) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, model.ActionError{Action: a.name, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, model.ActionError{Action: a.name, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if key := DispatchKey(ctx); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, model.ActionError{Action: a.name, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.ActionError{Action: a.name, Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return nil, model.ActionError{
			Action:    a.name,
			Message:   fmt.Sprintf("status %d: %s", resp.StatusCode, data),
			Retryable: resp.StatusCode >= 500,
		}
	}
	output := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &output); err != nil {
			return nil, model.ActionError{Action: a.name, Message: fmt.Sprintf("non json response: %v", err)}
		}
	}
	return output, nil
}
