package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
)

// InstallRequest is the request body for installing an app.
type InstallRequest struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// jobAccepted is the response shape of install/remove requests.
type jobAccepted struct {
	JobID string `json:"job_id"`
}

// JobStatus is one poll result for an install/remove job. Status may be
// empty: some daemon versions only report progress through Logs.
type JobStatus struct {
	Status string   `json:"status"`
	Logs   []string `json:"logs"`
}

// InstallApp asks the daemon to install an app and returns the job ID.
// An accepted request with no job ID is a local error; such an install
// must never enter the job tracker.
func (c *Client) InstallApp(ctx context.Context, name, url string) (string, error) {
	const op = "install app"

	body, err := encodeJSON(InstallRequest{Name: name, URL: url})
	if err != nil {
		return "", fmt.Errorf("marshal install request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/apps/install", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", httpError(op, resp.StatusCode)
	}

	return decodeJobID(op, resp)
}

// RemoveApp asks the daemon to remove an app and returns the job ID.
func (c *Client) RemoveApp(ctx context.Context, name string) (string, error) {
	const op = "remove app"

	url := c.baseURL + "/apps/remove/" + neturl.PathEscape(name)

	req, err := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", httpError(op, resp.StatusCode)
	}

	return decodeJobID(op, resp)
}

// GetJobStatus polls one install/remove job. A 404 is classified as
// KindJobNotFound: transient for the caller up to its failure ceiling.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	const op = "job status"

	url := c.baseURL + "/apps/job-status/" + neturl.PathEscape(jobID)

	req, err := c.newRequest(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Kind: KindJobNotFound, Op: op}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(op, resp.StatusCode)
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("parse job status: %w", err)
	}

	return &status, nil
}

func decodeJobID(op string, resp *http.Response) (string, error) {
	var accepted jobAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("parse %s response: %w", op, err)
	}

	if accepted.JobID == "" {
		return "", fmt.Errorf("%s: daemon returned no job id", op)
	}

	return accepted.JobID, nil
}
