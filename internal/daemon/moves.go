package daemon

import (
	"bytes"
	"context"
	"net/http"
	neturl "net/url"
)

// PlayMove starts a named move on the robot. Fire-and-forget: the
// daemon acknowledges and plays asynchronously, there is no job to poll.
func (c *Client) PlayMove(ctx context.Context, name string) error {
	const op = "play move"

	url := c.baseURL + "/move/play/" + neturl.PathEscape(name)

	req, err := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(op, resp.StatusCode)
	}

	return nil
}

// StopMove stops whatever move is currently playing.
func (c *Client) StopMove(ctx context.Context) error {
	const op = "stop move"

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/move/stop", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(op, resp.StatusCode)
	}

	return nil
}
