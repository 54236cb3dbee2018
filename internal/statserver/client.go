package statserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
)

const clientTimeout = 30 * time.Second

// Client talks to the HTTP surface served by NewHandler.
type Client struct {
	base string
	http *http.Client
}

func NewClient(addr string) *Client {
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: clientTimeout},
	}
}

func (c *Client) Volumes(ctx context.Context) (string, error) {
	var out strings.Builder

	err := c.do(ctx, http.MethodGet, "/stat/volumes", nil, http.StatusOK, func(r io.Reader) error {
		_, err := io.Copy(&out, r)

		return err
	})

	return out.String(), err
}

func (c *Client) ListTargets(ctx context.Context) ([]proxy.TargetInfo, error) {
	var infos []proxy.TargetInfo

	err := c.do(ctx, http.MethodGet, "/targets", nil, http.StatusOK, decodeInto(&infos))

	return infos, err
}

func (c *Client) CreateTarget(ctx context.Context, name string, args []string) (proxy.TargetInfo, error) {
	var info proxy.TargetInfo

	err := c.do(ctx, http.MethodPost, "/targets", CreateTargetRequest{Name: name, Args: args}, http.StatusCreated, decodeInto(&info))

	return info, err
}

func (c *Client) RemoveTarget(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/targets/"+name, nil, http.StatusNoContent, nil)
}

func decodeInto(v any) func(io.Reader) error {
	return func(r io.Reader) error {
		return json.NewDecoder(r).Decode(v)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, expected int, read func(io.Reader) error) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		var apiErr APIError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Message)
		}

		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if read == nil {
		return nil
	}

	return read(resp.Body)
}
