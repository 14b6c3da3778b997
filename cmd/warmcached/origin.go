package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var errItemNotFound = errors.New("warmcached: item not found")

// lookup is the result of one id inside a bulk origin call.
type lookup struct {
	Data  json.RawMessage
	Found bool
}

// origin calls the bulk endpoint GET {base}/items?ids=a,b,c, which answers a
// JSON object keyed by id. Missing ids are simply absent from the object.
type origin struct {
	client *http.Client
	base   string
}

func newOrigin(base string, timeout time.Duration) *origin {
	return &origin{
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(base, "/"),
	}
}

// fetchMany is a batch.Processor: results[i] answers ids[i].
func (o *origin) fetchMany(ctx context.Context, ids []string) ([]lookup, error) {
	u := o.base + "/items?ids=" + url.QueryEscape(strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warmcached: origin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("warmcached: origin answered %d", resp.StatusCode)
	}

	var items map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("warmcached: decode origin response: %w", err)
	}

	out := make([]lookup, len(ids))
	for i, id := range ids {
		if data, ok := items[id]; ok {
			out[i] = lookup{Data: data, Found: true}
		}
	}
	return out, nil
}
