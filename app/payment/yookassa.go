package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/netutil"
)

// DefaultAPIURL is the YooKassa v3 API root.
const DefaultAPIURL = "https://api.yookassa.ru/v3"

// YooKassaOptions configures NewYooKassa.
type YooKassaOptions struct {
	ShopID    string
	SecretKey string
	APIURL    string
	Timeout   time.Duration
	// Client overrides the HTTP client; tests point it at httptest servers.
	Client *http.Client
}

// YooKassa is a Provider backed by the YooKassa REST API.
type YooKassa struct {
	shopID  string
	secret  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	newKey  func() string
}

var _ Provider = (*YooKassa)(nil)

// NewYooKassa returns a client. Each call is bounded by opts.Timeout (default 15s).
func NewYooKassa(opts YooKassaOptions) *YooKassa {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if base == "" {
		base = DefaultAPIURL
	}
	client := opts.Client
	if client == nil {
		// retries resend the same Idempotence-Key
		client = netutil.NewClient(netutil.ClientOptions{Timeout: opts.Timeout, Retries: 2, Backoff: 500 * time.Millisecond})
	}
	return &YooKassa{
		shopID:  opts.ShopID,
		secret:  opts.SecretKey,
		baseURL: base,
		timeout: opts.Timeout,
		client:  client,
		newKey:  uuid.NewString,
	}
}

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ykCreate struct {
	Amount       ykAmount          `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation ykConfirmation    `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type ykPayment struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Paid         bool            `json:"paid"`
	Amount       ykAmount        `json:"amount"`
	Confirmation *ykConfirmation `json:"confirmation,omitempty"`
}

type ykError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (p ykPayment) toPayment() Payment {
	out := Payment{ID: p.ID, Status: p.Status}
	if p.Confirmation != nil {
		out.RedirectURL = p.Confirmation.ConfirmationURL
	}
	return out
}

// CreatePayment registers a redirect payment with immediate capture.
func (y *YooKassa) CreatePayment(ctx context.Context, req Request) (Payment, error) {
	currency := req.Currency
	if currency == "" {
		currency = "RUB"
	}
	body := ykCreate{
		Amount:       ykAmount{Value: strconv.FormatInt(req.Amount, 10) + ".00", Currency: currency},
		Capture:      true,
		Confirmation: ykConfirmation{Type: "redirect", ReturnURL: req.ReturnURL},
		Description:  req.Description,
		Metadata:     req.Metadata,
	}
	var out ykPayment
	if err := y.do(ctx, "create", http.MethodPost, "/payments", body, &out); err != nil {
		return Payment{}, err
	}
	if out.ID == "" || out.Confirmation == nil || out.Confirmation.ConfirmationURL == "" {
		return Payment{}, &ProviderError{Op: "create", Reason: "response without confirmation url"}
	}
	return out.toPayment(), nil
}

// GetPayment fetches the current state of a payment.
func (y *YooKassa) GetPayment(ctx context.Context, id string) (Payment, error) {
	var out ykPayment
	if err := y.do(ctx, "get", http.MethodGet, "/payments/"+id, nil, &out); err != nil {
		return Payment{}, err
	}
	return out.toPayment(), nil
}

func (y *YooKassa) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &ProviderError{Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+path, body)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.SetBasicAuth(y.shopID, y.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", y.newKey())
	}

	start := time.Now()
	resp, err := y.client.Do(req)
	if err != nil {
		y.log(ctx, op, start, 0, err)
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		y.log(ctx, op, start, resp.StatusCode, err)
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 {
		var ye ykError
		_ = json.Unmarshal(raw, &ye)
		perr := &ProviderError{Op: op, Status: resp.StatusCode, Reason: strings.TrimSpace(ye.Code + " " + ye.Description)}
		y.log(ctx, op, start, resp.StatusCode, perr)
		return perr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	y.log(ctx, op, start, resp.StatusCode, nil)
	return nil
}

func (y *YooKassa) log(ctx context.Context, op string, start time.Time, status int, err error) {
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.Int("status", status),
		slog.String("outcome", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	logger.LogEvent(ctx, logger.Pay, level, "payment.call", attrs...)
}

// Notification is the body YooKassa posts to the HTTP notification URL.
type Notification struct {
	Type   string    `json:"type"`
	Event  string    `json:"event"`
	Object ykPayment `json:"object"`
}

// PaymentID returns the id of the payment the notification is about.
func (n Notification) PaymentID() string { return n.Object.ID }

// Succeeded reports whether the notification announces a completed payment.
func (n Notification) Succeeded() bool {
	return n.Event == "payment.succeeded" && n.Object.Status == StatusSucceeded
}

// ParseNotification decodes a notification body.
func ParseNotification(r io.Reader) (Notification, error) {
	var n Notification
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Object.ID == "" {
		return Notification{}, fmt.Errorf("notification without payment id")
	}
	return n, nil
}
