// Package transport implements the HTTP client side of spec.md §6's
// wire contract, satisfying pkg/save's BlobSink/MetadataSink
// interfaces and offering the matching restore call. Transient-io
// failures are retried with github.com/boz/go-throttle pacing the
// retry attempts, the same throttling primitive lazydocker's
// pkg/gui/gui.go uses to pace its own repeated calls
// (throttle.ThrottleFunc in gui.go's refresh loop).
package transport

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	throttle "github.com/boz/go-throttle"
	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/metadatastore"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/kraklabs/unitcache/pkg/wire"
)

// Client speaks the wire contract of spec.md §6 against a single
// server base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// RetryBudget caps retry attempts for transient-io failures; every
	// Client call (HEAD, PUT and POST alike) goes through retry. Zero
	// means no retries beyond the first attempt.
	RetryBudget int
	// RetryPeriod paces retries via a fresh throttle.Throttle per call.
	RetryPeriod time.Duration
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// retry runs fn up to RetryBudget+1 times, pacing attempts after the
// first with a throttle.Throttle, stopping early on any error not
// classed transient-io (spec.md §7: only transient-io is retried).
func (c *Client) retry(fn func() error) error {
	budget := c.RetryBudget
	period := c.RetryPeriod
	if period <= 0 {
		period = 200 * time.Millisecond
	}

	t := throttle.NewThrottle(period, true)
	defer t.Stop()

	var lastErr error
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			t.Trigger()
			if !t.Next() {
				break
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !errtax.Is(err, errtax.TransientIO) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) url(format string, args ...any) string {
	return c.BaseURL + fmt.Sprintf(format, args...)
}

// CASExists reports whether the server holds key, via HEAD /cas/{hex}.
func (c *Client) CASExists(ctx context.Context, key hash.Key) (bool, error) {
	var found bool
	err := c.retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url("/cas/%s", key), nil)
		if err != nil {
			return err
		}
		resp, err := c.client().Do(req)
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			found = true
			return nil
		case http.StatusNotFound:
			found = false
			return nil
		default:
			return statusErr(resp)
		}
	})
	return found, err
}

// UnknownKeys implements pkg/save.BlobSink by checking each key with a
// HEAD request. Satisfies the same contract pkg/cas.Store.Exists does
// for a local, in-process pipeline.
func (c *Client) UnknownKeys(keys []hash.Key) ([]hash.Key, error) {
	var unknown []hash.Key
	for _, k := range keys {
		ok, err := c.CASExists(context.Background(), k)
		if err != nil {
			return nil, err
		}
		if !ok {
			unknown = append(unknown, k)
		}
	}
	return unknown, nil
}

// Upload implements pkg/save.BlobSink via PUT /cas/{hex}, compressing
// data client-side before sending (spec.md §6's PUT body is already
// zstd-compressed bytes).
func (c *Client) Upload(key hash.Key, data []byte) error {
	return c.retry(func() error {
		compressed, err := compress(data)
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPut, c.url("/cas/%s", key), bytes.NewReader(compressed))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/zstd-bytes")
		resp, err := c.client().Do(req)
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return statusErr(resp)
		}
		return nil
	})
}

// BulkUpload sends a set of (key, data) blobs in one POST
// /cas/bulk/write tar stream.
func (c *Client) BulkUpload(blobs map[hash.Key][]byte) (*wire.BulkWriteResponse, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for key, raw := range blobs {
		compressed, err := compress(raw)
		if err != nil {
			return nil, err
		}
		if err := tw.WriteHeader(&tar.Header{Name: key.String(), Size: int64(len(compressed)), Mode: 0o644}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(compressed); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var out wire.BulkWriteResponse
	err := c.retry(func() error {
		resp, err := c.client().Post(c.url("/cas/bulk/write"), "application/tar-zstd-entries", bytes.NewReader(tarBuf.Bytes()))
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusErr(resp)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	return &out, err
}

// BulkDownload fetches a set of keys via POST /cas/bulk/read, invoking
// fn with each key's decompressed bytes.
func (c *Client) BulkDownload(keys []hash.Key, fn func(hash.Key, []byte) error) error {
	hexes := make([]string, len(keys))
	for i, k := range keys {
		hexes[i] = k.String()
	}
	body, err := json.Marshal(wire.BulkReadRequest{Keys: hexes})
	if err != nil {
		return err
	}

	return c.retry(func() error {
		resp, err := c.client().Post(c.url("/cas/bulk/read"), "application/json", bytes.NewReader(body))
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusErr(resp)
		}
		tr := tar.NewReader(resp.Body)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errtax.Wrap(errtax.TransientIO, err)
			}
			key, err := hash.ParseKey(hdr.Name)
			if err != nil {
				return errtax.Wrap(errtax.InvalidRequest, err)
			}
			compressed, err := io.ReadAll(tr)
			if err != nil {
				return errtax.Wrap(errtax.TransientIO, err)
			}
			raw, err := decompress(compressed)
			if err != nil {
				return errtax.Wrap(errtax.Corruption, err)
			}
			if err := fn(key, raw); err != nil {
				return err
			}
		}
	})
}

// Save implements pkg/save.MetadataSink via POST /cache/save.
func (c *Client) Save(entries []metadatastore.Entry) error {
	units := make([]wire.SaveEntry, len(entries))
	for i, e := range entries {
		units[i] = wire.SaveEntry{
			Key:  wire.CacheKeyWire{UnitHash: string(e.Key.UnitHash), LibcVersion: e.Key.Libc},
			Unit: wire.EncodeSavedUnit(e.Unit),
		}
	}
	body, err := json.Marshal(wire.SaveRequest{Units: units})
	if err != nil {
		return err
	}
	return c.retry(func() error {
		resp, err := c.client().Post(c.url("/cache/save"), "application/json", bytes.NewReader(body))
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return statusErr(resp)
		}
		return nil
	})
}

// Restore fetches every compatible saved unit for keys via POST
// /cache/restore, keyed by unit hash for the caller's convenience
// (pkg/restore.Scheduler indexes hits by unit.Hash).
func (c *Client) Restore(keys []cachekey.Key) (map[unit.Hash]unit.SavedUnit, error) {
	req := make(wire.RestoreRequest, len(keys))
	for i, k := range keys {
		req[i] = wire.CacheKeyWire{UnitHash: string(k.UnitHash), LibcVersion: k.Libc}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var raw wire.RestoreResponse
	err = c.retry(func() error {
		resp, err := c.client().Post(c.url("/cache/restore"), "application/json", bytes.NewReader(body))
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusErr(resp)
		}
		return json.NewDecoder(resp.Body).Decode(&raw)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[unit.Hash]unit.SavedUnit, len(raw))
	for _, pair := range raw {
		su, err := wire.DecodeSavedUnit(pair.Unit)
		if err != nil {
			continue
		}
		out[unit.Hash(pair.Key.UnitHash)] = su
	}
	return out, nil
}

// Reset calls POST /cache/reset.
func (c *Client) Reset() error {
	return c.retry(func() error {
		resp, err := c.client().Post(c.url("/cache/reset"), "application/json", nil)
		if err != nil {
			return errtax.Wrap(errtax.TransientIO, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return statusErr(resp)
		}
		return nil
	})
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func statusErr(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return errtax.Newf(errtax.InvalidRequest, "transport: %s", resp.Status)
	case http.StatusNotFound:
		return errtax.Newf(errtax.NotFound, "transport: %s", resp.Status)
	case http.StatusUnprocessableEntity:
		return errtax.Newf(errtax.HashMismatch, "transport: %s", resp.Status)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusGatewayTimeout:
		return errtax.Newf(errtax.TransientIO, "transport: %s", resp.Status)
	default:
		return errtax.Newf(errtax.Internal, "transport: %s", resp.Status)
	}
}
