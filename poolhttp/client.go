package poolhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"

	selfplay "github.com/rlworks/go-selfplay"
)

// Client implements selfplay.PoolStore against a remote poolhttp
// Server. Connection failures, timeouts and 5xx responses come back
// as selfplay.TransientError so callers can retry with backoff.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the pool server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PublishLatest implements selfplay.PoolStore.
func (c *Client) PublishLatest(params []byte, version int) error {
	return c.post("/v1/latest", snapshotJSON{Params: params, Version: version}, nil)
}

// ReadLatest implements selfplay.PoolStore.
func (c *Client) ReadLatest() (selfplay.Snapshot, error) {
	var resp snapshotJSON
	if err := c.get("/v1/latest", &resp); err != nil {
		return selfplay.Snapshot{}, err
	}
	return selfplay.Snapshot{Params: resp.Params, Version: resp.Version}, nil
}

// PromoteSnapshot implements selfplay.PoolStore.
func (c *Client) PromoteSnapshot(params []byte) (int, error) {
	var resp promoteResponse
	if err := c.post("/v1/opponents", promoteRequest{Params: params}, &resp); err != nil {
		return 0, err
	}
	return resp.Index, nil
}

// ReadSnapshot implements selfplay.PoolStore.
func (c *Client) ReadSnapshot(index int) (selfplay.Snapshot, error) {
	var resp snapshotJSON
	if err := c.get(fmt.Sprintf("/v1/snapshot?index=%d", index), &resp); err != nil {
		return selfplay.Snapshot{}, err
	}
	return selfplay.Snapshot{Params: resp.Params, Version: resp.Version}, nil
}

// ReadQualities implements selfplay.PoolStore.
func (c *Client) ReadQualities() ([]float64, error) {
	var resp qualitiesResponse
	if err := c.get("/v1/qualities", &resp); err != nil {
		return nil, err
	}
	return resp.Qualities, nil
}

// NumOpponents implements selfplay.PoolStore.
func (c *Client) NumOpponents() (int, error) {
	var resp countResponse
	if err := c.get("/v1/opponents", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// ApplyQualityDelta implements selfplay.PoolStore.
func (c *Client) ApplyQualityDelta(index int, delta float64) error {
	return c.post("/v1/quality-delta", deltaRequest{Index: index, Delta: delta}, nil)
}

// PushRollouts implements selfplay.PoolStore.
func (c *Client) PushRollouts(payloads [][]byte) error {
	return c.post("/v1/rollouts", pushRequest{Payloads: payloads}, nil)
}

// PopRollouts implements selfplay.PoolStore.
func (c *Client) PopRollouts(max int) ([][]byte, error) {
	var resp popResponse
	if err := c.post("/v1/rollouts/pop", popRequest{Max: max}, &resp); err != nil {
		return nil, err
	}
	return resp.Payloads, nil
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return &selfplay.TransientError{Err: err}
	}
	return c.decode(resp, out)
}

func (c *Client) post(path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return &selfplay.TransientError{Err: err}
	}
	return c.decode(resp, out)
}

func (c *Client) decode(resp *http.Response, out interface{}) error {
	defer func() {
		io.Copy(ioutil.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return selfplay.ErrNoLatest
	case resp.StatusCode == http.StatusConflict:
		return selfplay.ErrIndexOutOfRange
	case resp.StatusCode >= 500:
		return &selfplay.TransientError{
			Err: errors.Errorf("pool server returned %s", resp.Status),
		}
	case resp.StatusCode >= 400:
		return errors.Errorf("pool server returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response")
}
