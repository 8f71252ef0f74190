// Package transport provides framed request/response and broadcast
// primitives between cluster nodes, plus a phi-accrual failure
// detector. Every route is an ordinary HTTP POST with a JSON body; it
// never lets a network error propagate as an exception past its API —
// failures surface only as returned errors (timeouts) and as
// node-state transitions on the failure detector's subscription
// stream.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client sends framed request/response RPCs to peer addresses over
// HTTP, mirroring the teacher's raft-server/client.go but addressed by
// string node id/address pairs instead of a slice indexed by uint32
// server id.
type Client struct {
	httpClient *http.Client
	detector   *Detector
}

func NewClient(timeout time.Duration, detector *Detector) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		detector:   detector,
	}
}

// Post sends req as a JSON body to addr+path and decodes the JSON
// response into resp. Network errors and non-200 statuses never
// panic or propagate beyond this function's error return (spec
// §4.1's "never propagate as exceptions"). peerID feeds the failure
// detector on success; pass "" if the caller has no id for addr yet.
func (c *Client) Post(peerID, addr, path string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s%s", addr, path)

	httpResp, err := c.httpClient.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", httpResp.StatusCode)
	}

	if peerID != "" && c.detector != nil {
		c.detector.Heartbeat(peerID)
	}

	if resp == nil {
		return nil
	}

	return json.NewDecoder(httpResp.Body).Decode(resp)
}

// Broadcast fans the same request out to every address, independently
// and without atomicity (spec §4.1's broadcast primitive), returning
// the decoded responses keyed by node id. Peers that fail to respond
// are simply absent from the result.
func (c *Client) Broadcast(addrs map[string]string, path string, req any, newResp func() any) map[string]any {
	type result struct {
		id   string
		resp any
		err  error
	}

	ch := make(chan result, len(addrs))
	for id, addr := range addrs {
		go func(id, addr string) {
			resp := newResp()
			err := c.Post(id, addr, path, req, resp)
			ch <- result{id: id, resp: resp, err: err}
		}(id, addr)
	}

	out := make(map[string]any, len(addrs))
	for range addrs {
		r := <-ch
		if r.err == nil {
			out[r.id] = r.resp
		}
	}
	return out
}
