// pkg/backend/http.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"guardian_voting/pkg/config"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/utils"
)

// HTTPClient implements Client over the backend's JSON API
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	logger   *zap.Logger
	retryCfg *utils.RetryConfig

	mu    sync.RWMutex
	token string
}

// NewHTTPClient creates a backend client from configuration
func NewHTTPClient(cfg *config.BackendConfig, logger *zap.Logger) (*HTTPClient, error) {
	var validation utils.ValidationHelper
	if !validation.ValidateURL(cfg.BaseURL) {
		return nil, fmt.Errorf("invalid backend base URL %q", cfg.BaseURL)
	}

	retryCfg := utils.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		retryCfg.InitialDelay = cfg.RetryDelay
	}
	// Only transient failures are worth repeating
	retryCfg.RetryableErrors = []error{ErrTransient}

	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		retryCfg: retryCfg,
	}, nil
}

// SetToken installs the session bearer token sent on subsequent calls
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// GetElection fetches one election by ID
func (c *HTTPClient) GetElection(ctx context.Context, electionID string) (*data.Election, error) {
	var election data.Election
	if err := c.getJSON(ctx, electionPath(electionID), &election); err != nil {
		return nil, fmt.Errorf("fetching election: %w", err)
	}
	return &election, nil
}

// CheckEligibility asks the backend whether the caller may vote
func (c *HTTPClient) CheckEligibility(ctx context.Context, electionID string) (*EligibilityResult, error) {
	var result EligibilityResult
	if err := c.getJSON(ctx, electionPath(electionID)+"/eligibility", &result); err != nil {
		return nil, fmt.Errorf("checking eligibility: %w", err)
	}
	return &result, nil
}

// CreateEncryptedBallot has the backend encrypt one candidate selection
func (c *HTTPClient) CreateEncryptedBallot(ctx context.Context, electionID, choiceID, choiceLabel, botSignal string) (*EncryptedBallotPayload, error) {
	body := map[string]string{
		"choice_id":    choiceID,
		"choice_label": choiceLabel,
		"bot_signal":   botSignal,
	}
	var payload EncryptedBallotPayload
	if err := c.doJSON(ctx, http.MethodPost, electionPath(electionID)+"/ballots/encrypt", body, &payload); err != nil {
		return nil, fmt.Errorf("creating encrypted ballot: %w", err)
	}
	return &payload, nil
}

// CastEncryptedBallot submits an encrypted ballot for inclusion in the tally
func (c *HTTPClient) CastEncryptedBallot(ctx context.Context, electionID, ciphertext, hash, trackingCode string) (*CastReceipt, error) {
	body := map[string]string{
		"ciphertext":    ciphertext,
		"hash":          hash,
		"tracking_code": trackingCode,
	}
	var receipt CastReceipt
	if err := c.doJSON(ctx, http.MethodPost, electionPath(electionID)+"/ballots/cast", body, &receipt); err != nil {
		return nil, fmt.Errorf("casting ballot: %w", err)
	}
	return &receipt, nil
}

// PerformChallenge spoils a ballot and verifies its encryption
func (c *HTTPClient) PerformChallenge(ctx context.Context, electionID, ciphertextWithNonce, assertedCandidate string) (*ChallengeOutcome, error) {
	body := map[string]string{
		"ciphertext_with_nonce": ciphertextWithNonce,
		"asserted_candidate":    assertedCandidate,
	}
	var outcome ChallengeOutcome
	if err := c.doJSON(ctx, http.MethodPost, electionPath(electionID)+"/ballots/challenge", body, &outcome); err != nil {
		return nil, fmt.Errorf("performing challenge: %w", err)
	}
	return &outcome, nil
}

// InitiateDecryption submits the calling guardian's credential to start a
// partial decryption job
func (c *HTTPClient) InitiateDecryption(ctx context.Context, electionID, credential string) (*SubmissionAck, error) {
	body := map[string]string{"credential": credential}
	var ack SubmissionAck
	if err := c.doJSON(ctx, http.MethodPost, electionPath(electionID)+"/decryption", body, &ack); err != nil {
		return nil, fmt.Errorf("initiating decryption: %w", err)
	}
	return &ack, nil
}

// GetDecryptionStatus reports the calling guardian's decryption job state
func (c *HTTPClient) GetDecryptionStatus(ctx context.Context, electionID string) (*JobStatus, error) {
	var status JobStatus
	if err := c.getJSON(ctx, electionPath(electionID)+"/decryption/status", &status); err != nil {
		return nil, fmt.Errorf("fetching decryption status: %w", err)
	}
	return &status, nil
}

// InitiateCombine starts combining partial decryptions into a tally
func (c *HTTPClient) InitiateCombine(ctx context.Context, electionID string) (*SubmissionAck, error) {
	var ack SubmissionAck
	if err := c.doJSON(ctx, http.MethodPost, electionPath(electionID)+"/combine", nil, &ack); err != nil {
		return nil, fmt.Errorf("initiating combine: %w", err)
	}
	return &ack, nil
}

// GetCombineStatus reports the election's combine job state
func (c *HTTPClient) GetCombineStatus(ctx context.Context, electionID string) (*JobStatus, error) {
	var status JobStatus
	if err := c.getJSON(ctx, electionPath(electionID)+"/combine/status", &status); err != nil {
		return nil, fmt.Errorf("fetching combine status: %w", err)
	}
	return &status, nil
}

// GetElectionResults fetches the raw combination output
func (c *HTTPClient) GetElectionResults(ctx context.Context, electionID string) (*RawResults, error) {
	var results RawResults
	if err := c.getJSON(ctx, electionPath(electionID)+"/results", &results); err != nil {
		return nil, fmt.Errorf("fetching results: %w", err)
	}
	return &results, nil
}

// VerifyBallotOnBlockchain looks up a tracking code on the public chain
func (c *HTTPClient) VerifyBallotOnBlockchain(ctx context.Context, electionID, trackingCode string) (*ChainVerification, error) {
	var verification ChainVerification
	path := electionPath(electionID) + "/chain/ballots/" + url.PathEscape(trackingCode)
	if err := c.getJSON(ctx, path, &verification); err != nil {
		return nil, fmt.Errorf("verifying ballot on chain: %w", err)
	}
	return &verification, nil
}

// Internal methods

func electionPath(electionID string) string {
	return "/api/elections/" + url.PathEscape(electionID)
}

// getJSON performs an idempotent read with retry on transient failures
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	return utils.RetryWithBackoff(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, path, nil, out)
	}, c.retryCfg)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("Backend request",
		zap.String("method", method),
		zap.String("path", path))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	// Server-side failures are retryable, client-side rejections are not
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %v", ErrTransient, readAPIError(resp))
	}
	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrMalformedPayload, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			if payload.Error != "" {
				apiErr.Message = payload.Error
			} else {
				apiErr.Message = payload.Message
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

var _ Client = (*HTTPClient)(nil)
