package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
)

const SandboxBaseURL = "https://sandbox.safaricom.co.ke"

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// MpesaClient drives the Daraja STK push flow: fetch an OAuth token with the
// consumer credentials, then ask Safaricom to prompt the customer's phone.
type MpesaClient struct {
	cfg    MpesaConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var eat = time.FixedZone("EAT", 3*60*60)

func NewMpesaClient(cfg MpesaConfig, logger *zap.Logger) *MpesaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MpesaClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (c *MpesaClient) InitiatePush(ctx context.Context, amount decimal.Decimal, phone string, reference string) (domain.PushResult, error) {
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return domain.PushResult{}, err
	}
	whole := amount.Round(0).IntPart()
	if whole < 1 {
		return domain.PushResult{}, fmt.Errorf("amount %s too small for mobile payment", amount)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return domain.PushResult{}, fmt.Errorf("mpesa auth: %w", err)
	}

	timestamp := c.now().In(eat).Format("20060102150405")
	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp)),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            whole,
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   "Payment for order " + reference,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.PushResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(payload))
	if err != nil {
		return domain.PushResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.PushResult{}, fmt.Errorf("mpesa stk push: %w", err)
	}
	defer resp.Body.Close()

	var out stkPushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return domain.PushResult{}, fmt.Errorf("decode stk push response (status %d): %w", resp.StatusCode, err)
	}

	if out.ResponseCode == "0" && out.CheckoutRequestID != "" {
		c.logger.Info("stk push accepted",
			zap.String("reference", reference),
			zap.String("checkout_request_id", out.CheckoutRequestID))
		return domain.PushResult{Accepted: true, Handle: out.CheckoutRequestID, Message: out.CustomerMessage}, nil
	}

	msg := firstNonEmpty(out.CustomerMessage, out.ErrorMessage, out.ResponseDescription, "STK push failed")
	c.logger.Warn("stk push rejected",
		zap.String("reference", reference),
		zap.Int("status", resp.StatusCode),
		zap.String("response_code", out.ResponseCode),
		zap.String("message", msg))
	return domain.PushResult{Accepted: false, Message: msg}, nil
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("empty access token")
	}

	ttl := 3599 * time.Second
	if d, err := time.ParseDuration(out.ExpiresIn + "s"); err == nil && d > time.Minute {
		ttl = d
	}
	c.token = out.AccessToken
	// Refresh a minute before Daraja expires it.
	c.tokenExpiry = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

// NormalizePhone turns 0712..., +254712... and 712... into 254712....
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "254"):
	case strings.HasPrefix(digits, "0"):
		digits = "254" + digits[1:]
	default:
		digits = "254" + digits
	}
	if len(digits) != 12 {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return digits, nil
}

type Callback struct {
	Handle  string
	Success bool
	Message string
}

// ParseCallback reads the Daraja STK result envelope. ResultCode 0 means the
// customer completed the payment; anything else is a failure.
func ParseCallback(body []byte) (Callback, error) {
	var envelope struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        *int   `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Callback{}, fmt.Errorf("decode callback: %w", err)
	}
	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		return Callback{}, errors.New("callback missing CheckoutRequestID or ResultCode")
	}
	return Callback{Handle: cb.CheckoutRequestID, Success: *cb.ResultCode == 0, Message: cb.ResultDesc}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
