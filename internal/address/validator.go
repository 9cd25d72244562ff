// Package address validates shipping destinations against the carrier
// aggregator's verification endpoint before any payment step runs.
package address

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fernwell/api/internal/domain"
)

const defaultVerifyBaseURL = "https://api.easypost.com/v2"

// Validation is the advisory verdict returned to checkout callers.
type Validation struct {
	// IsValid mirrors the provider's own deliverability flag.
	IsValid bool
	// IsComplete is false when the address is deliverable but under-specified,
	// for example a missing apartment number.
	IsComplete bool
	Messages   []string
	// Suggested is set only when the provider's candidate differs from the
	// input and the input was incomplete, prompting a blocking suggestion.
	Suggested *domain.Address
	// Normalized carries the provider's corrected fields whenever they
	// differ, for non-blocking "apply correction" affordances.
	Normalized *domain.Address
}

// ValidatorLogger defines the logging contract for validator operations.
type ValidatorLogger func(ctx context.Context, event string, fields map[string]any)

// Validator calls the external verification API once per request. No caching
// and no retries: validation is advisory and must never block on a flaky
// provider longer than one attempt.
type Validator struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     ValidatorLogger
}

// ValidatorOption customises the validator.
type ValidatorOption func(*Validator)

// WithBaseURL overrides the verification endpoint, primarily for tests.
func WithBaseURL(baseURL string) ValidatorOption {
	return func(v *Validator) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			v.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ValidatorOption {
	return func(v *Validator) {
		if client != nil {
			v.httpClient = client
		}
	}
}

// WithLogger injects an event logger.
func WithLogger(logger ValidatorLogger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator constructs a Validator for the given provider credentials.
func NewValidator(apiKey string, opts ...ValidatorOption) (*Validator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("address: verification api key is required")
	}
	validator := &Validator{
		apiKey:     apiKey,
		baseURL:    defaultVerifyBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator, nil
}

type verifyAddressPayload struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type verifyResponse struct {
	Street1       string `json:"street1"`
	Street2       string `json:"street2"`
	City          string `json:"city"`
	State         string `json:"state"`
	Zip           string `json:"zip"`
	Country       string `json:"country"`
	Verifications struct {
		Delivery struct {
			Success bool `json:"success"`
			Errors  []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"delivery"`
	} `json:"verifications"`
}

// Validate submits the address for verification. Provider or network failure
// is reported as an invalid result with a descriptive message rather than an
// error, so callers cannot accidentally proceed to payment on a failure.
func (v *Validator) Validate(ctx context.Context, addr domain.Address) (Validation, error) {
	if v == nil {
		return Validation{}, errors.New("address: validator is nil")
	}

	payload := map[string]any{
		"address": verifyAddressPayload{
			Name:    addr.Name,
			Street1: addr.Street1,
			Street2: addr.Street2,
			City:    addr.City,
			State:   addr.Region,
			Zip:     addr.PostalCode,
			Country: strings.ToUpper(addr.Country),
		},
		"verify": []string{"delivery"},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Validation{}, fmt.Errorf("address: encode verification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/addresses", bytes.NewReader(data))
	if err != nil {
		return Validation{}, fmt.Errorf("address: build verification request: %w", err)
	}
	req.SetBasicAuth(v.apiKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger(ctx, "address.verify.unreachable", map[string]any{"error": err.Error()})
		return failedValidation("address verification is temporarily unavailable"), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failedValidation("address verification returned an unreadable response"), nil
	}
	if resp.StatusCode >= 400 {
		v.logger(ctx, "address.verify.failed", map[string]any{"status": resp.StatusCode})
		return failedValidation(fmt.Sprintf("address verification failed with status %d", resp.StatusCode)), nil
	}

	var verified verifyResponse
	if err := json.Unmarshal(body, &verified); err != nil {
		return failedValidation("address verification returned an unreadable response"), nil
	}

	return buildValidation(addr, verified), nil
}

func failedValidation(message string) Validation {
	return Validation{IsValid: false, IsComplete: false, Messages: []string{message}}
}

func buildValidation(input domain.Address, verified verifyResponse) Validation {
	delivery := verified.Verifications.Delivery

	result := Validation{
		IsValid:    delivery.Success,
		IsComplete: delivery.Success && len(delivery.Errors) == 0,
	}
	for _, issue := range delivery.Errors {
		if issue.Message != "" {
			result.Messages = append(result.Messages, issue.Message)
		}
	}

	normalized := domain.Address{
		Name:       input.Name,
		Street1:    verified.Street1,
		Street2:    verified.Street2,
		City:       verified.City,
		Region:     verified.State,
		PostalCode: verified.Zip,
		Country:    strings.ToUpper(verified.Country),
		Phone:      input.Phone,
		Email:      input.Email,
	}

	if normalized.Street1 != "" && !normalized.Equal(input) {
		candidate := normalized
		result.Normalized = &candidate
		if !result.IsComplete {
			suggestion := normalized
			result.Suggested = &suggestion
		}
	}
	return result
}
