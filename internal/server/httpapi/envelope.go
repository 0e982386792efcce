package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/zstd"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

// Sync protocol headers.
const (
	HeaderSync         = "anki-sync"
	HeaderOriginalSize = "anki-original-size"
)

type ctxKey string

const syncHeaderKey ctxKey = "sk.syncHeader"

// WithSyncHeader stores the parsed sync envelope in context.
func WithSyncHeader(ctx context.Context, h model.SyncHeader) context.Context {
	return context.WithValue(ctx, syncHeaderKey, h)
}

// SyncHeaderFromCtx fetches the sync envelope from context.
func SyncHeaderFromCtx(ctx context.Context) (model.SyncHeader, bool) {
	h, ok := ctx.Value(syncHeaderKey).(model.SyncHeader)
	return h, ok
}

// ParseSyncHeader decodes the JSON envelope header. A missing header yields
// a zero envelope, which later fails authentication.
func ParseSyncHeader(raw string) (model.SyncHeader, error) {
	var h model.SyncHeader
	if raw == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return h, fmt.Errorf("%w: bad %s header: %v", errs.ErrValidation, HeaderSync, err)
	}
	return h, nil
}

// Codec compresses sync bodies with zstd. Safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec builds a codec whose decoder refuses output larger than maxBytes.
func NewCodec(maxBytes int64) (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxBytes)))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode compresses b.
func (c *Codec) Encode(b []byte) []byte { return c.enc.EncodeAll(b, nil) }

// Decode decompresses b. An empty body decodes to nil.
func (c *Codec) Decode(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	out, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bad zstd body: %v", errs.ErrValidation, err)
	}
	return out, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// syncEnvelope parses the anki-sync header into the request context.
func syncEnvelope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := ParseSyncHeader(r.Header.Get(HeaderSync))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSyncHeader(r.Context(), h)))
	})
}
