package main

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

	"github.com/spf13/cobra"
	"github.com/textileio/go-tonconnect/buildinfo"
	serviceerrors "github.com/textileio/go-tonconnect/pkg/errors"
)

// apiClient calls the tonconnectd HTTP API.
type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	baseURL, err := cmd.Flags().GetString("api")
	if err != nil {
		return nil, fmt.Errorf("failed to parse api")
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid api url %q", baseURL)
	}
	token, err := cmd.Flags().GetString("token")
	if err != nil {
		return nil, fmt.Errorf("failed to parse token")
	}
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// do sends body as JSON and decodes a JSON answer into out, if not nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding body: %s", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling api: %s", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		var se serviceerrors.ServiceError
		if err := json.NewDecoder(res.Body).Decode(&se); err != nil || se.Message == "" {
			return fmt.Errorf("api answered %s", res.Status)
		}
		return fmt.Errorf("api answered %s: %s", res.Status, se.Message)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %s", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %s", err)
	}
	fmt.Println(string(b))
	return nil
}
