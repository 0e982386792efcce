package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/server/httpapi"
)

// syncProtocolVersion is the envelope version the client announces.
const syncProtocolVersion = 11

// client talks to the sync server over HTTP.
type client struct {
	base    string
	http    *http.Client
	codec   *httpapi.Codec
	session string
}

func newClient(base string) (*client, error) {
	codec, err := httpapi.NewCodec(httpapi.DefaultMaxPayloadMegs * 1024 * 1024)
	if err != nil {
		return nil, err
	}
	sid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		codec:   codec,
		session: sid.String()[:8],
	}, nil
}

func (c *client) close() { c.codec.Close() }

func (c *client) register(ctx context.Context, in model.RegisterRequest) (model.RegisterResponse, error) {
	var out model.RegisterResponse
	body, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/register", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%s: decode response: %w", resp.Status, err)
	}
	return out, nil
}

func (c *client) hostKey(ctx context.Context, user, password string) (string, error) {
	var out model.HostKeyResponse
	if err := c.syncCall(ctx, "/sync/hostKey", "", model.HostKeyRequest{Username: user, Password: password}, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

func (c *client) mediaBegin(ctx context.Context, key string) (httpapi.MediaBeginResponse, error) {
	var out httpapi.MediaResult[httpapi.MediaBeginResponse]
	if err := c.syncCall(ctx, "/msync/begin", key, struct{}{}, &out); err != nil {
		return httpapi.MediaBeginResponse{}, err
	}
	if out.Err != "" {
		return httpapi.MediaBeginResponse{}, fmt.Errorf("media begin: %s", out.Err)
	}
	return out.Data, nil
}

func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: %s", resp.Status)
	}
	return nil
}

// syncCall posts a compressed JSON payload with the sync envelope header and
// decodes the compressed JSON reply into out.
func (c *client) syncCall(ctx context.Context, path, key string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	hdr, err := json.Marshal(model.SyncHeader{
		ProtocolVersion: syncProtocolVersion,
		SyncKey:         key,
		ClientVersion:   "sync-keeper-cli/" + version,
		SessionKey:      c.session,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(c.codec.Encode(raw)))
	if err != nil {
		return err
	}
	req.Header.Set(httpapi.HeaderSync, string(hdr))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	plain, err := c.codec.Decode(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, out)
}
