package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fernwell/api/internal/domain"
)

const (
	shippoName           = "shippo"
	defaultShippoBaseURL = "https://api.goshippo.com"
)

// ShippoAdapter talks to the secondary carrier aggregator, which accepts
// grams and centimetres natively.
type ShippoAdapter struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

// ShippoOption customises the adapter.
type ShippoOption func(*ShippoAdapter)

// WithShippoBaseURL overrides the API endpoint, primarily for tests.
func WithShippoBaseURL(baseURL string) ShippoOption {
	return func(a *ShippoAdapter) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			a.baseURL = baseURL
		}
	}
}

// WithShippoHTTPClient overrides the HTTP client.
func WithShippoHTTPClient(client *http.Client) ShippoOption {
	return func(a *ShippoAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewShippoAdapter constructs the secondary carrier adapter.
func NewShippoAdapter(apiToken string, opts ...ShippoOption) (*ShippoAdapter, error) {
	apiToken = strings.TrimSpace(apiToken)
	if apiToken == "" {
		return nil, errors.New("shipping: shippo api token is required")
	}
	adapter := &ShippoAdapter{
		apiToken:   apiToken,
		baseURL:    defaultShippoBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter, nil
}

// Name implements CarrierAdapter.
func (a *ShippoAdapter) Name() string { return shippoName }

type shippoAddress struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type shippoParcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type shippoServiceLevel struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type shippoRate struct {
	ObjectID      string             `json:"object_id"`
	Provider      string             `json:"provider"`
	ServiceLevel  shippoServiceLevel `json:"servicelevel"`
	Amount        string             `json:"amount"`
	Currency      string             `json:"currency"`
	EstimatedDays int                `json:"estimated_days"`
}

type shippoShipment struct {
	ObjectID string       `json:"object_id"`
	Status   string       `json:"status"`
	Rates    []shippoRate `json:"rates"`
	Messages []struct {
		Text string `json:"text"`
	} `json:"messages"`
}

type shippoTransaction struct {
	ObjectID       string      `json:"object_id"`
	Status         string      `json:"status"`
	LabelURL       string      `json:"label_url"`
	TrackingNumber string      `json:"tracking_number"`
	TrackingURL    string      `json:"tracking_url_provider"`
	Rate           *shippoRate `json:"rate"`
	Messages       []struct {
		Text string `json:"text"`
	} `json:"messages"`
}

type shippoRefund struct {
	ObjectID string `json:"object_id"`
	Status   string `json:"status"`
}

// GetRates implements CarrierAdapter.
func (a *ShippoAdapter) GetRates(ctx context.Context, req RateRequest) ([]domain.Rate, error) {
	payload := map[string]any{
		"address_from": shippoAddressFrom(req.From),
		"address_to":   shippoAddressFrom(req.To),
		"parcels": []shippoParcel{{
			Length:       formatMeasure(req.Parcel.LengthCM),
			Width:        formatMeasure(req.Parcel.WidthCM),
			Height:       formatMeasure(req.Parcel.HeightCM),
			DistanceUnit: "cm",
			Weight:       formatMeasure(req.Parcel.WeightGrams),
			MassUnit:     "g",
		}},
		"async": false,
	}

	var shipment shippoShipment
	if err := a.do(ctx, http.MethodPost, "/shipments/", payload, &shipment); err != nil {
		return nil, err
	}
	if strings.EqualFold(shipment.Status, "ERROR") {
		return nil, &CarrierError{Carrier: shippoName, Kind: KindRejected, Message: shippoMessages(shipment.Messages)}
	}

	rates := make([]domain.Rate, 0, len(shipment.Rates))
	for _, rate := range shipment.Rates {
		cents, err := parseAmountCents(rate.Amount)
		if err != nil {
			return nil, &CarrierError{Carrier: shippoName, Kind: KindRejected, Message: fmt.Sprintf("unparseable rate amount %q", rate.Amount)}
		}
		rates = append(rates, domain.Rate{
			RateID:      rate.ObjectID,
			Carrier:     rate.Provider,
			Service:     rate.ServiceLevel.Name,
			AmountCents: cents,
			Currency:    strings.ToUpper(rate.Currency),
			TransitDays: rate.EstimatedDays,
		})
	}
	SortRates(rates)
	return rates, nil
}

// PurchaseLabel implements CarrierAdapter.
func (a *ShippoAdapter) PurchaseLabel(ctx context.Context, rateID string) (Label, error) {
	rateID = strings.TrimSpace(rateID)
	if rateID == "" {
		return Label{}, &CarrierError{Carrier: shippoName, Kind: KindRejected, Message: "rate id is required"}
	}

	payload := map[string]any{
		"rate":            rateID,
		"label_file_type": "PDF",
		"async":           false,
	}
	var tx shippoTransaction
	if err := a.do(ctx, http.MethodPost, "/transactions/", payload, &tx); err != nil {
		return Label{}, err
	}
	if !strings.EqualFold(tx.Status, "SUCCESS") || tx.LabelURL == "" {
		return Label{}, &CarrierError{Carrier: shippoName, Kind: KindRejected, Message: shippoMessages(tx.Messages)}
	}

	label := Label{
		Carrier:        shippoName,
		LabelURL:       tx.LabelURL,
		TrackingNumber: tx.TrackingNumber,
		TrackingURL:    tx.TrackingURL,
		TransactionID:  tx.ObjectID,
	}
	if rate := tx.Rate; rate != nil {
		label.Carrier = rate.Provider
		label.Service = rate.ServiceLevel.Name
		label.Currency = strings.ToUpper(rate.Currency)
		if cents, err := parseAmountCents(rate.Amount); err == nil {
			label.AmountCents = cents
		}
	}
	return label, nil
}

// VoidLabel implements CarrierAdapter.
func (a *ShippoAdapter) VoidLabel(ctx context.Context, transactionID string) (VoidResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return VoidResult{}, &CarrierError{Carrier: shippoName, Kind: KindRejected, Message: "transaction id is required"}
	}

	payload := map[string]any{"transaction": transactionID, "async": false}
	var refund shippoRefund
	if err := a.do(ctx, http.MethodPost, "/refunds/", payload, &refund); err != nil {
		return VoidResult{}, err
	}
	status := refund.Status
	if status == "" {
		status = "QUEUED"
	}
	return VoidResult{Status: strings.ToLower(status)}, nil
}

func (a *ShippoAdapter) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("shipping: encode shippo payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("shipping: build shippo request: %w", err)
	}
	req.Header.Set("Authorization", "ShippoToken "+a.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &CarrierError{Carrier: shippoName, Kind: KindUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &CarrierError{Carrier: shippoName, Kind: KindUnavailable, Message: err.Error()}
	}

	if resp.StatusCode >= 500 {
		return &CarrierError{Carrier: shippoName, Kind: KindUnavailable, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &CarrierError{Carrier: shippoName, Kind: KindRejected, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &CarrierError{Carrier: shippoName, Kind: KindUnavailable, Message: "malformed response: " + err.Error()}
		}
	}
	return nil
}

func shippoMessages(messages []struct {
	Text string `json:"text"`
}) string {
	if len(messages) == 0 {
		return "carrier rejected the request"
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	if len(parts) == 0 {
		return "carrier rejected the request"
	}
	return strings.Join(parts, "; ")
}

func formatMeasure(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func shippoAddressFrom(addr domain.Address) shippoAddress {
	return shippoAddress{
		Name:    addr.Name,
		Street1: addr.Street1,
		Street2: addr.Street2,
		City:    addr.City,
		State:   addr.Region,
		Zip:     addr.PostalCode,
		Country: addr.Country,
		Phone:   addr.Phone,
		Email:   addr.Email,
	}
}
