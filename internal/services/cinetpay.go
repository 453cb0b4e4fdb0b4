package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	gatewayCodeCreated  = "201"
	gatewayStatusAccept = "ACCEPTED"
	gatewayStatusRefuse = "REFUSED"
)

// Gateway is the external processor that moves money and reports status.
type Gateway interface {
	CreatePayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CheckPayment(ctx context.Context, transactionID string) (*CheckResult, error)
}

type Customer struct {
	ID          string
	Name        string
	Surname     string
	Email       string
	PhoneNumber string
	Address     string
	City        string
	Country     string
}

type ChargeRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Description   string
	Channels      string
	NotifyURL     string
	ReturnURL     string
	Metadata      string
	Customer      Customer
}

type ChargeResult struct {
	PaymentURL   string
	PaymentToken string
}

type CheckResult struct {
	Code    string
	Message string
	Status  string
	Raw     []byte
}

type CinetPayClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	siteID     string
	logger     *zap.Logger
}

func NewCinetPayClient(baseURL, apiKey, siteID string, timeout time.Duration, logger *zap.Logger) *CinetPayClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CinetPayClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		siteID:     siteID,
		logger:     logger,
	}
}

type cinetPayPaymentRequest struct {
	APIKey              string `json:"apikey"`
	SiteID              string `json:"site_id"`
	TransactionID       string `json:"transaction_id"`
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	Description         string `json:"description"`
	Channels            string `json:"channels"`
	NotifyURL           string `json:"notify_url"`
	ReturnURL           string `json:"return_url"`
	Metadata            string `json:"metadata,omitempty"`
	CustomerID          string `json:"customer_id,omitempty"`
	CustomerName        string `json:"customer_name,omitempty"`
	CustomerSurname     string `json:"customer_surname,omitempty"`
	CustomerEmail       string `json:"customer_email,omitempty"`
	CustomerPhoneNumber string `json:"customer_phone_number"`
	CustomerAddress     string `json:"customer_address,omitempty"`
	CustomerCity        string `json:"customer_city,omitempty"`
	CustomerCountry     string `json:"customer_country,omitempty"`
}

// gatewayCode accepts both "201" and 201.
type gatewayCode string

func (c *gatewayCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = gatewayCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("gateway code: %w", err)
	}
	*c = gatewayCode(n.String())
	return nil
}

type cinetPayPaymentResponse struct {
	Code        gatewayCode `json:"code"`
	Message     string      `json:"message"`
	Description string      `json:"description"`
	Data        struct {
		PaymentToken string `json:"payment_token"`
		PaymentURL   string `json:"payment_url"`
	} `json:"data"`
}

type cinetPayCheckResponse struct {
	Code    gatewayCode `json:"code"`
	Message string      `json:"message"`
	Data    struct {
		Status string `json:"status"`
	} `json:"data"`
}

func (c *CinetPayClient) CreatePayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	reqBody, err := json.Marshal(cinetPayPaymentRequest{
		APIKey:              c.apiKey,
		SiteID:              c.siteID,
		TransactionID:       req.TransactionID,
		Amount:              req.Amount,
		Currency:            req.Currency,
		Description:         req.Description,
		Channels:            req.Channels,
		NotifyURL:           req.NotifyURL,
		ReturnURL:           req.ReturnURL,
		Metadata:            req.Metadata,
		CustomerID:          req.Customer.ID,
		CustomerName:        req.Customer.Name,
		CustomerSurname:     req.Customer.Surname,
		CustomerEmail:       req.Customer.Email,
		CustomerPhoneNumber: req.Customer.PhoneNumber,
		CustomerAddress:     req.Customer.Address,
		CustomerCity:        req.Customer.City,
		CustomerCountry:     req.Customer.Country,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}
	c.logger.Debug("gateway payment request", zap.ByteString("body", maskSensitiveFields(reqBody)))

	status, body, err := c.post(ctx, "/v2/payment", reqBody)
	if err != nil {
		c.logger.Error("gateway payment request failed", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return nil, &GatewayError{Message: err.Error(), Unavailable: true}
	}

	var resp cinetPayPaymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("gateway returned non-JSON body", zap.String("transaction_id", req.TransactionID), zap.Int("http_status", status))
		return nil, &GatewayError{HTTPStatus: status, Message: "non-JSON response from gateway", Unavailable: status >= http.StatusInternalServerError}
	}
	if status < 200 || status > 299 || string(resp.Code) != gatewayCodeCreated {
		msg := resp.Message
		if resp.Description != "" {
			msg = msg + ": " + resp.Description
		}
		c.logger.Warn("gateway refused payment",
			zap.String("transaction_id", req.TransactionID),
			zap.Int("http_status", status),
			zap.String("code", string(resp.Code)),
			zap.String("message", msg))
		return nil, &GatewayError{HTTPStatus: status, Code: string(resp.Code), Message: msg}
	}
	if resp.Data.PaymentURL == "" {
		return nil, &GatewayError{HTTPStatus: status, Code: string(resp.Code), Message: "no payment URL in gateway response"}
	}

	return &ChargeResult{PaymentURL: resp.Data.PaymentURL, PaymentToken: resp.Data.PaymentToken}, nil
}

// CheckPayment asks the gateway for the authoritative status of a transaction.
func (c *CinetPayClient) CheckPayment(ctx context.Context, transactionID string) (*CheckResult, error) {
	reqBody, err := json.Marshal(map[string]string{
		"apikey":         c.apiKey,
		"site_id":        c.siteID,
		"transaction_id": transactionID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal check request: %v", ErrVerificationFailed, err)
	}

	status, body, err := c.post(ctx, "/v2/payment/check", reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway http status %d", ErrVerificationFailed, status)
	}

	var resp cinetPayCheckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: non-JSON check response (http %d)", ErrVerificationFailed, status)
	}
	if resp.Code == "" && resp.Data.Status == "" {
		return nil, fmt.Errorf("%w: check response has neither code nor status", ErrVerificationFailed)
	}

	return &CheckResult{
		Code:    string(resp.Code),
		Message: resp.Message,
		Status:  strings.ToUpper(strings.TrimSpace(resp.Data.Status)),
		Raw:     body,
	}, nil
}

func (c *CinetPayClient) post(ctx context.Context, path string, reqBody []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func maskSensitiveFields(body []byte) []byte {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}
	if _, ok := req["apikey"]; ok {
		req["apikey"] = "****"
	}
	if email, ok := req["customer_email"].(string); ok {
		parts := strings.Split(email, "@")
		if len(parts) == 2 && len(parts[0]) > 3 {
			req["customer_email"] = parts[0][:3] + "****@" + parts[1]
		}
	}
	if phone, ok := req["customer_phone_number"].(string); ok && len(phone) > 4 {
		req["customer_phone_number"] = "****" + phone[len(phone)-4:]
	}
	masked, _ := json.Marshal(req)
	return masked
}
