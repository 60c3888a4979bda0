package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/nikkolasg/hexjson"

	"github.com/keyshard/keyshard/common/log"
	"github.com/keyshard/keyshard/dkg"
	"github.com/keyshard/keyshard/key"
	"github.com/keyshard/keyshard/session"
)

// Client drives the initiator side of a two-participant key generation
// against a responder daemon.
type Client struct {
	log  log.Logger
	base string
	http *http.Client
	rng  io.Reader
}

// NewClient returns an initiator targeting the responder at baseURL. A nil
// rng uses the operating system's generator.
func NewClient(l log.Logger, baseURL string, rng io.Reader) *Client {
	return &Client{
		log:  l.Named("client"),
		base: baseURL,
		http: &http.Client{Timeout: 30 * time.Second},
		rng:  rng,
	}
}

// WithHTTPClient swaps the underlying http client, used by tests to talk to
// an in-process server.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Run performs a full key generation with the responder and returns the
// public key set together with our secret key share. The responder's identity
// is authenticated by its self-signature; the generated set is checked
// against the one the responder reports.
func (c *Client) Run(ctx context.Context, pair *key.Pair) (*key.Share, error) {
	// Open the session: send our identity, receive the responder's identity
	// and its Part.
	var initResp InitResponse
	err := c.post(ctx, "/v1/dkg/init", &InitRequest{Node: nodeJSON(pair.Public)}, &initResp)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if initResp.Node == nil {
		return nil, fmt.Errorf("init: responder sent no identity")
	}
	responder, err := identityFromJSON(initResp.Node)
	if err != nil {
		return nil, fmt.Errorf("init: responder identity: %w", err)
	}
	roster, err := key.NewRoster([]*key.Identity{pair.Public, responder})
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	responderPart, err := dkg.UnmarshalPart(roster.Scheme(), initResp.Part)
	if err != nil {
		return nil, fmt.Errorf("init: responder part: %w", err)
	}
	c.log.Infow("session opened", "id", initResp.SessionID, "responder", responder.Addr)

	gen, ownPart, err := dkg.NewGenerator(pair, roster, initResp.Threshold, c.rng)
	if err != nil {
		return nil, err
	}

	// Handle both Parts in roster order, collecting our own Acks.
	parts := map[string]*dkg.Part{
		pair.Public.Addr: ownPart,
		responder.Addr:   responderPart,
	}
	var ownAcks []*session.Envelope
	for _, id := range roster.Identities() {
		out, err := gen.HandlePart(id.Addr, parts[id.Addr], c.rng)
		if err != nil {
			return nil, err
		}
		if !out.Valid() {
			return nil, fmt.Errorf("faulty part from %q: %w", id.Addr, out.Fault)
		}
		if out.Ack == nil {
			return nil, fmt.Errorf("no ack produced for part from %q", id.Addr)
		}
		body, err := out.Ack.MarshalBinary()
		if err != nil {
			return nil, err
		}
		ownAcks = append(ownAcks, &session.Envelope{Sender: pair.Public.Addr, Body: body})
	}

	// Commit: send our Part and Acks, receive the responder's Acks.
	ownPartBytes, err := ownPart.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var commitResp CommitResponse
	err = c.post(ctx, "/v1/dkg/"+url.PathEscape(initResp.SessionID)+"/commit",
		&CommitRequest{Part: ownPartBytes, Acks: ownAcks}, &commitResp)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// Handle all Acks in the agreed (proposer, acker) order.
	all := append(append([]*session.Envelope{}, ownAcks...), commitResp.Acks...)
	ordered, err := orderAcks(roster, all)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	for _, env := range ordered {
		ack, err := dkg.UnmarshalAck(env.Body)
		if err != nil {
			return nil, fmt.Errorf("commit: ack from %q: %w", env.Sender, err)
		}
		out, err := gen.HandleAck(env.Sender, ack)
		if err != nil {
			return nil, err
		}
		if !out.Valid() {
			return nil, fmt.Errorf("faulty ack from %q: %w", env.Sender, out.Fault)
		}
	}
	if !gen.IsReady() {
		return nil, fmt.Errorf("not enough complete proposals")
	}

	// Finalize on the responder, then derive our own keys and cross-check.
	var finResp FinalizeResponse
	err = c.post(ctx, "/v1/dkg/"+url.PathEscape(initResp.SessionID)+"/finalize", struct{}{}, &finResp)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	set, share, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	setBytes, err := set.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(setBytes, finResp.PublicKey) {
		return nil, fmt.Errorf("finalize: responder derived a different public key set")
	}
	c.log.Infow("session complete", "id", initResp.SessionID, "public_key", set.Hash())
	return &key.Share{Set: set, Share: share}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e errorJSON
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.Unmarshal(respBody, out)
}
