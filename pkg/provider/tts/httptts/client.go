// Package httptts implements tts.Client against the TTS microservice's HTTP
// contract: POST /tts for synthesis, GET /health for endpoint probing, and
// GET/POST /voice/{hash} for the voice reference cache.
//
// It composes voice-hash caching, priority-ordered multi-endpoint health
// probing, a per-endpoint circuit breaker (github.com/MrWong99/glyphoxa/internal/resilience),
// and bounded exponential-backoff retry.
package httptts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Client = (*Client)(nil)

// Endpoint describes one candidate TTS backend.
type Endpoint struct {
	// Name labels the endpoint in logs and circuit-breaker state.
	Name string

	// URL is the base URL (e.g. "http://localhost:8000"), no trailing slash.
	URL string

	// Priority orders health probing; lower values are probed first.
	Priority int
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithHealthTimeout overrides the per-probe health-check timeout. Defaults
// to 2s.
func WithHealthTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.healthTimeout = d }
}

// WithMaxAttempts bounds the number of synth attempts against the active
// endpoint before giving up. Defaults to 3.
func WithMaxAttempts(n int) Option {
	return func(cl *Client) { cl.maxAttempts = n }
}

// WithBackoff sets the base exponential-backoff delay between retries
// (delay doubles each attempt: base, 2*base, 4*base, ...). Defaults to
// 250ms.
func WithBackoff(base time.Duration) Option {
	return func(cl *Client) { cl.backoffBase = base }
}

// WithCircuitBreaker overrides the circuit breaker tuning applied to every
// endpoint. HalfOpenMax is forced to 1 to match the "first probe success
// closes" semantics of the TTS failover contract.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(cl *Client) { cl.breakerCfg = cfg }
}

// endpointState tracks the mutable per-endpoint bookkeeping: its circuit
// breaker and the set of voice hashes already confirmed uploaded.
type endpointState struct {
	Endpoint
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	uploaded map[string]bool
}

// Client implements tts.Client against the TTS microservice HTTP contract.
// Safe for concurrent use.
type Client struct {
	voices        tts.VoiceStore
	httpClient    *http.Client
	healthTimeout time.Duration
	maxAttempts   int
	backoffBase   time.Duration
	breakerCfg    resilience.CircuitBreakerConfig

	mu       sync.Mutex
	eps      []*endpointState // sorted ascending by Priority
	activeID int              // index into eps of the current active endpoint, -1 if none yet
}

// New creates a Client over the given endpoints (at least one required) and
// a VoiceStore supplying reference audio for voice-cache hashing.
func New(voices tts.VoiceStore, endpoints []Endpoint, opts ...Option) (*Client, error) {
	if voices == nil {
		return nil, errors.New("httptts: voices must not be nil")
	}
	if len(endpoints) == 0 {
		return nil, errors.New("httptts: at least one endpoint is required")
	}

	sorted := make([]Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	c := &Client{
		voices:        voices,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		healthTimeout: 2 * time.Second,
		maxAttempts:   3,
		backoffBase:   250 * time.Millisecond,
		activeID:      -1,
	}
	for _, o := range opts {
		o(c)
	}

	c.eps = make([]*endpointState, len(sorted))
	for i, ep := range sorted {
		cbCfg := c.breakerCfg
		cbCfg.Name = ep.Name
		cbCfg.HalfOpenMax = 1
		c.eps[i] = &endpointState{
			Endpoint: ep,
			breaker:  resilience.NewCircuitBreaker(cbCfg),
			uploaded: make(map[string]bool),
		}
	}
	return c, nil
}

// healthResponse mirrors GET /health.
type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// selectActive probes endpoints in ascending priority order and returns the
// first one reporting model_loaded == true. If the active endpoint changes
// from the previous call, its circuit breaker is reset and its
// voice-uploaded set is cleared, per spec.
func (c *Client) selectActive(ctx context.Context) (*endpointState, error) {
	for i, ep := range c.eps {
		if c.probeHealthy(ctx, ep) {
			c.mu.Lock()
			changed := c.activeID != i
			c.activeID = i
			c.mu.Unlock()

			if changed {
				ep.breaker.Reset()
				ep.mu.Lock()
				ep.uploaded = make(map[string]bool)
				ep.mu.Unlock()
			}
			return ep, nil
		}
	}
	return nil, errors.New("httptts: no healthy TTS endpoint")
}

func (c *Client) probeHealthy(ctx context.Context, ep *endpointState) bool {
	hctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, ep.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return false
	}
	return h.ModelLoaded
}

// voiceHash returns the first 16 hex characters of the SHA-256 digest of
// the voice's reference audio bytes.
func voiceHash(ref []byte) string {
	sum := sha256.Sum256(ref)
	return hex.EncodeToString(sum[:])[:16]
}

// ensureVoiceUploaded makes sure hash is cached on ep, probing GET
// /voice/{hash} and uploading via POST /voice/{hash} if absent.
func (c *Client) ensureVoiceUploaded(ctx context.Context, ep *endpointState, voiceID, hash string) error {
	ep.mu.Lock()
	already := ep.uploaded[hash]
	ep.mu.Unlock()
	if already {
		return nil
	}

	cached, err := c.probeVoiceCached(ctx, ep, hash)
	if err != nil {
		return fmt.Errorf("httptts: probe voice cache: %w", err)
	}
	if !cached {
		ref, err := c.voices.Reference(voiceID)
		if err != nil {
			return fmt.Errorf("httptts: load voice reference %q: %w", voiceID, err)
		}
		if err := c.uploadVoice(ctx, ep, hash, ref); err != nil {
			return fmt.Errorf("httptts: upload voice: %w", err)
		}
	}

	ep.mu.Lock()
	ep.uploaded[hash] = true
	ep.mu.Unlock()
	return nil
}

type voiceProbeResponse struct {
	Cached bool `json:"cached"`
}

func (c *Client) probeVoiceCached(ctx context.Context, ep *endpointState, hash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+"/voice/"+hash, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var v voiceProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return false, err
	}
	return v.Cached, nil
}

func (c *Client) uploadVoice(ctx context.Context, ep *endpointState, hash string, ref []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", hash+".wav")
	if err != nil {
		return fmt.Errorf("httptts: create form file: %w", err)
	}
	if _, err := fw.Write(ref); err != nil {
		return fmt.Errorf("httptts: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("httptts: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL+"/voice/"+hash, &body)
	if err != nil {
		return fmt.Errorf("httptts: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httptts: POST /voice/%s: %w", hash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("httptts: POST /voice/%s returned status %d", hash, resp.StatusCode)
	}
	return nil
}

// synthRequest is the JSON body sent to POST /tts.
type synthRequest struct {
	Text        string  `json:"text"`
	VoiceID     string  `json:"voice_id,omitempty"`
	Exaggeration float64 `json:"exaggeration"`
	CfgWeight    float64 `json:"cfg_weight"`
}

// emotionToWire maps the spec's single emotion ∈ [0,1] knob onto the wire
// contract's two independent generation parameters: exaggeration tracks
// emotion directly, cfg_weight relaxes (lower adherence to the reference
// voice, more expressive) as emotion rises.
func emotionToWire(emotion float64) (exaggeration, cfgWeight float64) {
	if emotion < 0 {
		emotion = 0
	}
	if emotion > 1 {
		emotion = 1
	}
	return emotion, 0.5 - 0.3*emotion
}

// Synth implements tts.Client. It selects the active endpoint (probing
// health down the priority list on every call and taking the first healthy
// one; a failing synth does not by itself trigger a re-probe), ensures
// the requested voice is cached on that endpoint, then POSTs the synthesis
// request with bounded exponential-backoff retry through the endpoint's
// circuit breaker.
func (c *Client) Synth(ctx context.Context, text string, voiceID string, emotion float64) ([]byte, error) {
	ep, err := c.selectActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("httptts: %w", err)
	}

	var hash string
	if voiceID != "" {
		ref, err := c.voices.Reference(voiceID)
		if err != nil {
			return nil, fmt.Errorf("httptts: load voice reference %q: %w", voiceID, err)
		}
		hash = voiceHash(ref)
		if err := c.ensureVoiceUploaded(ctx, ep, voiceID, hash); err != nil {
			return nil, err
		}
	}

	exaggeration, cfgWeight := emotionToWire(emotion)

	var wav []byte
	attempt := 0
	for {
		attempt++
		var synthErr error
		err = ep.breaker.Execute(func() error {
			var doErr error
			wav, doErr = c.doSynth(ctx, ep, text, voiceID, exaggeration, cfgWeight)
			if doErr != nil {
				synthErr = doErr
			}
			return doErr
		})

		if err == nil {
			return wav, nil
		}
		if errors.Is(err, voiceNotFoundErr) {
			ep.mu.Lock()
			delete(ep.uploaded, hash)
			ep.mu.Unlock()
		}
		if attempt >= c.maxAttempts || errors.Is(err, resilience.ErrCircuitOpen) {
			if synthErr != nil {
				return nil, fmt.Errorf("httptts: synth failed after %d attempts: %w", attempt, synthErr)
			}
			return nil, fmt.Errorf("httptts: synth failed after %d attempts: %w", attempt, err)
		}

		delay := c.backoffBase << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var voiceNotFoundErr = errors.New("httptts: voice not found in cache")

func (c *Client) doSynth(ctx context.Context, ep *endpointState, text, voiceID string, exaggeration, cfgWeight float64) ([]byte, error) {
	body, err := json.Marshal(synthRequest{
		Text:         text,
		VoiceID:      voiceID,
		Exaggeration: exaggeration,
		CfgWeight:    cfgWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST /tts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && strings.Contains(string(data), "not found in cache") {
		return nil, voiceNotFoundErr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST /tts returned status %d", resp.StatusCode)
	}

	return data, nil
}
