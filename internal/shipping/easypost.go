package shipping

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

const (
	easyPostName           = "easypost"
	defaultEasyPostBaseURL = "https://api.easypost.com/v2"

	gramsPerOunce = 28.349523125
	cmPerInch     = 2.54
)

// EasyPostAdapter talks to the primary carrier aggregator. The API quotes in
// ounces and inches, so all conversion from the canonical grams/centimetres
// happens here.
type EasyPostAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// EasyPostOption customises the adapter.
type EasyPostOption func(*EasyPostAdapter)

// WithEasyPostBaseURL overrides the API endpoint, primarily for tests.
func WithEasyPostBaseURL(baseURL string) EasyPostOption {
	return func(a *EasyPostAdapter) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			a.baseURL = baseURL
		}
	}
}

// WithEasyPostHTTPClient overrides the HTTP client.
func WithEasyPostHTTPClient(client *http.Client) EasyPostOption {
	return func(a *EasyPostAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// NewEasyPostAdapter constructs the primary carrier adapter.
func NewEasyPostAdapter(apiKey string, opts ...EasyPostOption) (*EasyPostAdapter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("shipping: easypost api key is required")
	}
	adapter := &EasyPostAdapter{
		apiKey:     apiKey,
		baseURL:    defaultEasyPostBaseURL,
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
func (a *EasyPostAdapter) Name() string { return easyPostName }

type easyPostAddress struct {
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

type easyPostParcel struct {
	Length   float64 `json:"length"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	WeightOz float64 `json:"weight"`
}

type easyPostRate struct {
	ID           string `json:"id"`
	Carrier      string `json:"carrier"`
	Service      string `json:"service"`
	Rate         string `json:"rate"`
	Currency     string `json:"currency"`
	DeliveryDays int    `json:"delivery_days"`
}

type easyPostShipment struct {
	ID           string          `json:"id"`
	Rates        []easyPostRate  `json:"rates"`
	SelectedRate *easyPostRate   `json:"selected_rate"`
	PostageLabel *easyPostLabel  `json:"postage_label"`
	TrackingCode string          `json:"tracking_code"`
	Tracker      *easyPostTrack  `json:"tracker"`
	RefundStatus string          `json:"refund_status"`
	Messages     []easyPostIssue `json:"messages"`
}

type easyPostLabel struct {
	LabelURL string `json:"label_url"`
}

type easyPostTrack struct {
	PublicURL string `json:"public_url"`
}

type easyPostIssue struct {
	Message string `json:"message"`
}

// GetRates implements CarrierAdapter. The returned RateID values compose the
// provider shipment ID with the rate ID, since both are needed at purchase.
func (a *EasyPostAdapter) GetRates(ctx context.Context, req RateRequest) ([]domain.Rate, error) {
	payload := map[string]any{
		"shipment": map[string]any{
			"to_address":   easyPostAddressFrom(req.To),
			"from_address": easyPostAddressFrom(req.From),
			"parcel": easyPostParcel{
				Length:   round2(req.Parcel.LengthCM / cmPerInch),
				Width:    round2(req.Parcel.WidthCM / cmPerInch),
				Height:   round2(req.Parcel.HeightCM / cmPerInch),
				WeightOz: round2(req.Parcel.WeightGrams / gramsPerOunce),
			},
		},
	}

	var shipment easyPostShipment
	if err := a.do(ctx, http.MethodPost, "/shipments", payload, &shipment); err != nil {
		return nil, err
	}

	rates := make([]domain.Rate, 0, len(shipment.Rates))
	for _, rate := range shipment.Rates {
		cents, err := parseAmountCents(rate.Rate)
		if err != nil {
			return nil, &CarrierError{Carrier: easyPostName, Kind: KindRejected, Message: fmt.Sprintf("unparseable rate amount %q", rate.Rate)}
		}
		rates = append(rates, domain.Rate{
			RateID:      shipment.ID + "|" + rate.ID,
			Carrier:     rate.Carrier,
			Service:     rate.Service,
			AmountCents: cents,
			Currency:    strings.ToUpper(rate.Currency),
			TransitDays: rate.DeliveryDays,
		})
	}
	SortRates(rates)
	return rates, nil
}

// PurchaseLabel implements CarrierAdapter.
func (a *EasyPostAdapter) PurchaseLabel(ctx context.Context, rateID string) (Label, error) {
	shipmentID, providerRateID, ok := strings.Cut(rateID, "|")
	if !ok || shipmentID == "" || providerRateID == "" {
		return Label{}, &CarrierError{Carrier: easyPostName, Kind: KindRejected, Message: fmt.Sprintf("malformed rate id %q", rateID)}
	}

	payload := map[string]any{
		"rate": map[string]string{"id": providerRateID},
	}
	var shipment easyPostShipment
	if err := a.do(ctx, http.MethodPost, "/shipments/"+shipmentID+"/buy", payload, &shipment); err != nil {
		return Label{}, err
	}
	if shipment.PostageLabel == nil || shipment.TrackingCode == "" {
		return Label{}, &CarrierError{Carrier: easyPostName, Kind: KindRejected, Message: "purchase returned no label"}
	}

	label := Label{
		Carrier:        easyPostName,
		LabelURL:       shipment.PostageLabel.LabelURL,
		TrackingNumber: shipment.TrackingCode,
		TransactionID:  shipment.ID,
	}
	if shipment.Tracker != nil {
		label.TrackingURL = shipment.Tracker.PublicURL
	}
	if rate := shipment.SelectedRate; rate != nil {
		label.Carrier = rate.Carrier
		label.Service = rate.Service
		label.Currency = strings.ToUpper(rate.Currency)
		if cents, err := parseAmountCents(rate.Rate); err == nil {
			label.AmountCents = cents
		}
	}
	return label, nil
}

// VoidLabel implements CarrierAdapter. EasyPost models voiding as a refund
// request on the shipment.
func (a *EasyPostAdapter) VoidLabel(ctx context.Context, transactionID string) (VoidResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return VoidResult{}, &CarrierError{Carrier: easyPostName, Kind: KindRejected, Message: "transaction id is required"}
	}

	var shipment easyPostShipment
	if err := a.do(ctx, http.MethodPost, "/shipments/"+transactionID+"/refund", nil, &shipment); err != nil {
		return VoidResult{}, err
	}
	status := shipment.RefundStatus
	if status == "" {
		status = "submitted"
	}
	return VoidResult{Status: status}, nil
}

func (a *EasyPostAdapter) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("shipping: encode easypost payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("shipping: build easypost request: %w", err)
	}
	req.SetBasicAuth(a.apiKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &CarrierError{Carrier: easyPostName, Kind: KindUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &CarrierError{Carrier: easyPostName, Kind: KindUnavailable, Message: err.Error()}
	}

	if resp.StatusCode >= 500 {
		return &CarrierError{Carrier: easyPostName, Kind: KindUnavailable, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return &CarrierError{Carrier: easyPostName, Kind: KindRejected, Message: easyPostErrorMessage(data, resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &CarrierError{Carrier: easyPostName, Kind: KindUnavailable, Message: "malformed response: " + err.Error()}
		}
	}
	return nil
}

func easyPostErrorMessage(data []byte, statusCode int) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fmt.Sprintf("status %d", statusCode)
}

func easyPostAddressFrom(addr domain.Address) easyPostAddress {
	return easyPostAddress{
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

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
