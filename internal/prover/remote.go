// remote.go - Remote proving over HTTP/JSON.
//
// A Server exposes any Service on the wire; RemoteProver is the matching
// client and itself implements Service, so local and remote workers are
// interchangeable behind the Pool.

package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"notechain/internal/crypto"
)

// failure kinds on the wire; the client maps them back to sentinels.
const (
	kindMalformed = "malformed"
	kindCapacity  = "capacity"
	kindInternal  = "internal"
)

type proveRequest struct {
	Witness Witness `json:"witness"`
}

type proveResponse struct {
	Proof Proof  `json:"proof,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type verifyRequest struct {
	Proof   Proof       `json:"proof"`
	Initial crypto.Word `json:"initial"`
	Digest  crypto.Word `json:"digest"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Server exposes a proving Service over HTTP.
type Server struct {
	svc      Service
	server   *http.Server
	listener net.Listener
}

// NewServer wraps the service; Start binds it to addr.
func NewServer(svc Service) *Server {
	return &Server{svc: svc}
}

// Start binds the listener and serves in the background. It returns once
// the listener is bound, so an addr of ":0" can be inspected via Addr.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/prove", s.handleProve)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/health", s.handleHealth)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("prover server listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: mux}

	go func() {
		log.Printf("[prover] serving on %s", listener.Addr())
		if err := s.server.Serve(listener); err != http.ErrServerClosed {
			log.Printf("[prover] server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	var req proveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, proveResponse{Error: err.Error(), Kind: kindMalformed})
		return
	}

	proof, err := s.svc.ProveTransition(r.Context(), req.Witness)
	if err != nil {
		status, kind := classify(err)
		writeJSON(w, status, proveResponse{Error: err.Error(), Kind: kind})
		return
	}
	writeJSON(w, http.StatusOK, proveResponse{Proof: proof})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: err.Error()})
		return
	}
	if err := s.svc.Verify(req.Proof, req.Initial, req.Digest); err != nil {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[prover] writing response: %v", err)
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformedWitness):
		return http.StatusBadRequest, kindMalformed
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusTooManyRequests, kindCapacity
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

// RemoteProver is the HTTP client side of a prover Server.
type RemoteProver struct {
	baseURL string
	client  *http.Client
}

// NewRemoteProver returns a client for a prover server at addr
// (host:port).
func NewRemoteProver(addr string) *RemoteProver {
	return &RemoteProver{
		baseURL: "http://" + addr,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// ProveTransition implements Service.
func (p *RemoteProver) ProveTransition(ctx context.Context, w Witness) (Proof, error) {
	var resp proveResponse
	if err := p.post(ctx, "/prove", proveRequest{Witness: w}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		switch resp.Kind {
		case kindMalformed:
			return nil, fmt.Errorf("%w: %s", ErrMalformedWitness, resp.Error)
		case kindCapacity:
			return nil, fmt.Errorf("%w: %s", ErrCapacityExceeded, resp.Error)
		default:
			return nil, fmt.Errorf("%w: %s", ErrInternalFault, resp.Error)
		}
	}
	return resp.Proof, nil
}

// Verify implements Service.
func (p *RemoteProver) Verify(proof Proof, initial, digest crypto.Word) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var resp verifyResponse
	if err := p.post(ctx, "/verify", verifyRequest{Proof: proof, Initial: initial, Digest: digest}, &resp); err != nil {
		return err
	}
	if !resp.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidProof, resp.Error)
	}
	return nil
}

// Health implements Service.
func (p *RemoteProver) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalFault, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: worker unhealthy: %s", ErrInternalFault, bytes.TrimSpace(body))
	}
	return nil
}

func (p *RemoteProver) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWitness, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalFault, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: undecodable response: %v", ErrInternalFault, err)
	}
	return nil
}
