// Package client implements a small HTTP client for urbackupd's control
// plane (package api), grounded on the same get/post request shape the
// teacher's node/api/client package uses against its own daemon API.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/api"
)

// Client talks to one urbackupd instance's HTTP control plane.
type Client struct {
	Address  string // host:port, no scheme
	Password string

	httpClient http.Client
}

// New creates a Client targeting address.
func New(address, password string) *Client {
	return &Client{Address: address, Password: password}
}

func (c *Client) url(resource string) string {
	return fmt.Sprintf("http://%s%s", c.Address, resource)
}

func (c *Client) do(method, resource, body string) (*http.Response, error) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.url(resource), r)
	if err != nil {
		return nil, err
	}
	if c.Password != "" {
		req.SetBasicAuth("", c.Password)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.AddContext(err, "client: request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var errResp api.ErrorResponse
		if jerr := json.NewDecoder(resp.Body).Decode(&errResp); jerr == nil && errResp.Message != "" {
			return nil, errors.New("client: " + resp.Status + ": " + errResp.Message)
		}
		return nil, errors.New("client: unexpected status " + resp.Status)
	}
	return resp, nil
}

func (c *Client) get(resource string, obj interface{}) error {
	resp, err := c.do(http.MethodGet, resource, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if obj == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(obj)
}

func (c *Client) post(resource, body string, obj interface{}) error {
	resp, err := c.do(http.MethodPost, resource, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if obj == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(obj)
}

// VersionGet requests the /version resource.
func (c *Client) VersionGet() (v api.VersionGet, err error) {
	err = c.get("/version", &v)
	return
}

// StatusGet requests the /status resource, covering every client the
// daemon has seen online.
func (c *Client) StatusGet() (s api.StatusGet, err error) {
	err = c.get("/status", &s)
	return
}

// StatusClientGet requests the /status/:client resource for one client.
func (c *Client) StatusClientGet(clientName string) (s api.ClientStatus, err error) {
	err = c.get("/status/"+url.PathEscape(clientName), &s)
	return
}

// BackupsGet requests the /backups/:client resource.
func (c *Client) BackupsGet(clientID uint64) (b api.BackupsGet, err error) {
	err = c.get(fmt.Sprintf("/backups/%d", clientID), &b)
	return
}

// CleanupRunPost triggers an immediate retention sweep via /cleanup/run.
func (c *Client) CleanupRunPost() (r api.CleanupRunPost, err error) {
	err = c.post("/cleanup/run", "", &r)
	return
}
