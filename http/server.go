// Package http implements the thin two-participant orchestration of a key
// generation run: a responder daemon driving one side of the protocol over
// three POST routes, and the initiator client driving the other. All protocol
// decisions stay in the dkg package; this layer only moves bytes and keeps
// the session record.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	json "github.com/nikkolasg/hexjson"

	"github.com/keyshard/keyshard/common/log"
	"github.com/keyshard/keyshard/crypto"
	"github.com/keyshard/keyshard/dkg"
	"github.com/keyshard/keyshard/key"
	"github.com/keyshard/keyshard/metrics"
	"github.com/keyshard/keyshard/session"
)

// reqTimeout is the deadline of the context each handler passes to the
// session store. The handlers' own processing is not bounded by it, and the
// in-memory and bbolt stores do not consult the context.
const reqTimeout = 10 * time.Second

// twoPartyThreshold is the threshold of a pairwise run: one share on each
// side, and either share alone is enough to sign.
const twoPartyThreshold = 0

// maxBodyBytes bounds request bodies; protocol messages are small.
const maxBodyBytes = 1 << 22

// NodeJSON is the wire form of a public identity.
type NodeJSON struct {
	Address   string `json:"address"`
	Key       []byte `json:"key"`
	Signature []byte `json:"signature"`
	Scheme    string `json:"scheme"`
}

// InitRequest opens a session; it carries the initiator's identity.
type InitRequest struct {
	Node *NodeJSON `json:"node"`
}

// InitResponse returns the responder's identity and first Part.
type InitResponse struct {
	SessionID string    `json:"session_id"`
	Threshold int       `json:"threshold"`
	Node      *NodeJSON `json:"node"`
	Part      []byte    `json:"part"`
}

// CommitRequest carries the initiator's Part and its Acks on every Part.
type CommitRequest struct {
	Part []byte              `json:"part"`
	Acks []*session.Envelope `json:"acks"`
}

// CommitResponse returns the responder's Acks on every Part.
type CommitResponse struct {
	Acks []*session.Envelope `json:"acks"`
}

// FinalizeResponse returns the generated public key set.
type FinalizeResponse struct {
	PublicKey []byte `json:"public_key"`
}

// Server is the responder side of the orchestration. It is stateless between
// requests: every request loads the session record and rebuilds the protocol
// state by replay.
type Server struct {
	log    log.Logger
	pair   *key.Pair
	store  session.Store
	shares key.Store // optional, receives the share on finalize
	router chi.Router
}

// NewServer builds the responder for the given long-term pair. When shares is
// non-nil the generated key share is saved there on finalize.
func NewServer(l log.Logger, pair *key.Pair, store session.Store, shares key.Store) *Server {
	s := &Server{
		log:    l.Named("http"),
		pair:   pair,
		store:  store,
		shares: shares,
	}
	r := chi.NewRouter()
	r.Post("/v1/dkg/init", s.handleInit)
	r.Post("/v1/dkg/{sessionID}/commit", s.handleCommit)
	r.Post("/v1/dkg/{sessionID}/finalize", s.handleFinalize)
	r.Get("/v1/identity", s.handleIdentity)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router = r
	return s
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func nodeJSON(id *key.Identity) *NodeJSON {
	kb, _ := id.Key.MarshalBinary()
	return &NodeJSON{
		Address:   id.Addr,
		Key:       kb,
		Signature: id.Signature,
		Scheme:    id.Scheme.Name,
	}
}

func identityFromJSON(n *NodeJSON) (*key.Identity, error) {
	scheme, ok := crypto.SchemeFromName(n.Scheme)
	if !ok {
		return nil, fmt.Errorf("unknown scheme %q", n.Scheme)
	}
	p := scheme.KeyGroup.Point()
	if err := p.UnmarshalBinary(n.Key); err != nil {
		return nil, err
	}
	return &key.Identity{Key: p, Addr: n.Address, Signature: n.Signature, Scheme: scheme}, nil
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	metrics.APICallCounter.WithLabelValues("identity").Inc()
	writeJSON(w, http.StatusOK, nodeJSON(s.pair.Public))
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	metrics.APICallCounter.WithLabelValues("init").Inc()
	ctx, cancel := context.WithTimeout(r.Context(), reqTimeout)
	defer cancel()

	var req InitRequest
	if err := decodeJSON(r, &req); err != nil || req.Node == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	peer, err := identityFromJSON(req.Node)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid peer identity: %v", err))
		return
	}
	if peer.Addr == s.pair.Public.Addr {
		writeError(w, http.StatusBadRequest, "peer address collides with ours")
		return
	}
	roster, err := key.NewRoster([]*key.Identity{s.pair.Public, peer})
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid roster: %v", err))
		return
	}

	_, part, err := dkg.NewGenerator(s.pair, roster, twoPartyThreshold, nil)
	if err != nil {
		s.log.Errorw("creating generator", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create generator")
		return
	}
	sess := session.New(uuid.New().String(), roster, twoPartyThreshold)
	if err := sess.RecordPart(s.pair.Public.Addr, part); err != nil {
		writeError(w, http.StatusInternalServerError, "could not record part")
		return
	}
	if err := s.store.Put(ctx, sess); err != nil {
		s.log.Errorw("storing session", "id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store session")
		return
	}
	metrics.SessionsStarted.Inc()
	s.log.Infow("session opened", "id", sess.ID, "peer", peer.Addr)

	partBytes, err := part.MarshalBinary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not marshal part")
		return
	}
	writeJSON(w, http.StatusOK, &InitResponse{
		SessionID: sess.ID,
		Threshold: twoPartyThreshold,
		Node:      nodeJSON(s.pair.Public),
		Part:      partBytes,
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	metrics.APICallCounter.WithLabelValues("commit").Inc()
	ctx, cancel := context.WithTimeout(r.Context(), reqTimeout)
	defer cancel()

	sess, ok := s.loadSession(ctx, w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	roster, err := sess.Roster()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt session roster")
		return
	}
	peer := peerOf(roster, s.pair.Public.Addr)
	if peer == nil {
		writeError(w, http.StatusInternalServerError, "corrupt session roster")
		return
	}
	peerPart, err := dkg.UnmarshalPart(roster.Scheme(), req.Part)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid part: %v", err))
		return
	}
	if err := sess.RecordPart(peer.Addr, peerPart); err != nil {
		writeError(w, http.StatusInternalServerError, "could not record part")
		return
	}

	// Replay the parts in roster order; our own acks fall out of the replay.
	gen, ownAcks, fault, err := s.replayParts(sess)
	if err != nil {
		s.log.Errorw("replaying session", "id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not replay session")
		return
	}
	if fault != nil {
		metrics.PeerFaults.WithLabelValues(fault.Kind.String()).Inc()
		s.log.Warnw("faulty part", "id", sess.ID, "peer", peer.Addr, "fault", fault.Kind.String())
		writeError(w, http.StatusBadRequest, fault.Error())
		return
	}

	// Gather all acks and order them canonically by (proposer, acker) so
	// both sides handle the exact same sequence.
	all := append(append([]*session.Envelope{}, ownAcks...), req.Acks...)
	ordered, err := orderAcks(roster, all)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid acks: %v", err))
		return
	}
	for _, env := range ordered {
		ack, err := dkg.UnmarshalAck(env.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ack: %v", err))
			return
		}
		out, err := gen.HandleAck(env.Sender, ack)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ack: %v", err))
			return
		}
		if !out.Valid() {
			metrics.PeerFaults.WithLabelValues(out.Fault.Kind.String()).Inc()
			writeError(w, http.StatusBadRequest, out.Fault.Error())
			return
		}
		if err := sess.RecordAck(env.Sender, ack); err != nil {
			writeError(w, http.StatusInternalServerError, "could not record ack")
			return
		}
	}
	if err := s.store.Put(ctx, sess); err != nil {
		s.log.Errorw("storing session", "id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store session")
		return
	}
	writeJSON(w, http.StatusOK, &CommitResponse{Acks: ownAcks})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	metrics.APICallCounter.WithLabelValues("finalize").Inc()
	ctx, cancel := context.WithTimeout(r.Context(), reqTimeout)
	defer cancel()

	sess, ok := s.loadSession(ctx, w, r)
	if !ok {
		return
	}
	gen, err := sess.Rebuild(s.pair, nil)
	if err != nil {
		s.log.Errorw("rebuilding session", "id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not rebuild session")
		return
	}
	if !gen.IsReady() {
		writeError(w, http.StatusConflict, "not enough complete proposals")
		return
	}
	set, share, err := gen.Generate()
	if err != nil {
		s.log.Errorw("generating keys", "id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not generate keys")
		return
	}
	setBytes, err := set.MarshalBinary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not marshal key set")
		return
	}
	if !sess.Complete {
		sess.Complete = true
		sess.PublicKey = setBytes
		if err := s.store.Put(ctx, sess); err != nil {
			s.log.Errorw("storing session", "id", sess.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "could not store session")
			return
		}
		if s.shares != nil && share != nil {
			if err := s.shares.SaveShare(&key.Share{Set: set, Share: share}); err != nil {
				s.log.Errorw("saving share", "id", sess.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "could not save share")
				return
			}
		}
		metrics.SessionsCompleted.Inc()
		s.log.Infow("session complete", "id", sess.ID, "public_key", set.Hash())
	}
	if share != nil {
		share.Zeroize()
	}
	writeJSON(w, http.StatusOK, &FinalizeResponse{PublicKey: setBytes})
}

// replayParts feeds the session's recorded parts, in roster order, into a
// fresh generator and returns the acks we emit along the way. A faulty part
// interrupts the replay.
func (s *Server) replayParts(sess *session.Session) (*dkg.Generator, []*session.Envelope, *dkg.PartFault, error) {
	roster, err := sess.Roster()
	if err != nil {
		return nil, nil, nil, err
	}
	gen, _, err := dkg.NewGenerator(s.pair, roster, sess.Threshold, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	parts := make(map[string]*dkg.Part, len(sess.Parts))
	for _, env := range sess.Parts {
		p, err := dkg.UnmarshalPart(roster.Scheme(), env.Body)
		if err != nil {
			return nil, nil, nil, err
		}
		parts[env.Sender] = p
	}
	var ownAcks []*session.Envelope
	for _, id := range roster.Identities() {
		p, ok := parts[id.Addr]
		if !ok {
			continue
		}
		out, err := gen.HandlePart(id.Addr, p, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		if !out.Valid() {
			return nil, nil, out.Fault, nil
		}
		if out.Ack != nil {
			body, err := out.Ack.MarshalBinary()
			if err != nil {
				return nil, nil, nil, err
			}
			ownAcks = append(ownAcks, &session.Envelope{Sender: s.pair.Public.Addr, Body: body})
		}
	}
	return gen, ownAcks, nil, nil
}

func (s *Server) loadSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNoSessionStored) {
			writeError(w, http.StatusNotFound, "unknown session")
		} else {
			s.log.Errorw("loading session", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "could not load session")
		}
		return nil, false
	}
	return sess, true
}

// orderAcks sorts ack envelopes by (proposer index, acker index), the agreed
// processing order of the protocol.
func orderAcks(roster *key.Roster, envs []*session.Envelope) ([]*session.Envelope, error) {
	type keyed struct {
		env      *session.Envelope
		proposer uint32
		acker    int
	}
	keyedEnvs := make([]keyed, len(envs))
	for i, env := range envs {
		ack, err := dkg.UnmarshalAck(env.Body)
		if err != nil {
			return nil, err
		}
		acker, ok := roster.Index(env.Sender)
		if !ok {
			return nil, fmt.Errorf("acker %q not in roster", env.Sender)
		}
		keyedEnvs[i] = keyed{env: env, proposer: ack.Proposer, acker: acker}
	}
	sort.SliceStable(keyedEnvs, func(i, j int) bool {
		if keyedEnvs[i].proposer != keyedEnvs[j].proposer {
			return keyedEnvs[i].proposer < keyedEnvs[j].proposer
		}
		return keyedEnvs[i].acker < keyedEnvs[j].acker
	})
	out := make([]*session.Envelope, len(envs))
	for i, k := range keyedEnvs {
		out[i] = k.env
	}
	return out, nil
}

func peerOf(roster *key.Roster, ownAddr string) *key.Identity {
	for _, id := range roster.Identities() {
		if id.Addr != ownAddr {
			return id
		}
	}
	return nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &errorJSON{Error: msg})
}
