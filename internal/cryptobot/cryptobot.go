package cryptobot

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"vpnbot/entity"
	"vpnbot/internal/config"
	"vpnbot/lib/sl"
)

const baseURL = "https://pay.crypt.bot/api"

// Client talks to the Crypto Pay API (@CryptoBot). Invoices are created
// in fiat terms and paid in the configured crypto asset.
type Client struct {
	hc       *http.Client
	apiToken string
	asset    string
	log      *slog.Logger
}

func New(conf *config.Config, logger *slog.Logger) *Client {
	if !conf.CryptoBot.Enabled {
		return nil
	}
	return &Client{
		hc:       &http.Client{Timeout: 10 * time.Second},
		apiToken: conf.CryptoBot.ApiToken,
		asset:    conf.CryptoBot.Asset,
		log:      logger.With(sl.Module("cryptobot")),
	}
}

type invoice struct {
	InvoiceId int64  `json:"invoice_id"`
	Status    string `json:"status"`
	PayUrl    string `json:"bot_invoice_url"`
	Payload   string `json:"payload"`
}

type apiResponse struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (c *Client) request(ctx context.Context, method string, payload interface{}) (json.RawMessage, error) {
	log := c.log.With(slog.String("api_method", method))

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal payload", sl.Err(err))
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s", baseURL, method), bytes.NewReader(data))
	if err != nil {
		log.Error("create request", sl.Err(err))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.apiToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error("request failed", sl.Err(err))
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var parsed apiResponse
	if err = json.Unmarshal(body, &parsed); err != nil {
		log.Error("parse response", sl.Err(err))
		return nil, fmt.Errorf("cryptobot parse response: %w", err)
	}
	if !parsed.Ok {
		if parsed.Error != nil {
			return nil, fmt.Errorf("cryptobot %d: %s", parsed.Error.Code, parsed.Error.Name)
		}
		return nil, fmt.Errorf("cryptobot %s: %s", resp.Status, body)
	}
	return parsed.Result, nil
}

// CreateInvoice opens a crypto invoice for a plan. The invoice payload
// carries the telegram id and plan code back through the webhook.
func (c *Client) CreateInvoice(ctx context.Context, telegramId int64, plan *entity.Plan) (*entity.Payment, error) {
	log := c.log.With(
		slog.Int64("telegram_id", telegramId),
		slog.String("plan", plan.Code),
	)

	payload := fmt.Sprintf("%d:%s", telegramId, plan.Code)
	body := map[string]interface{}{
		"currency_type":   "fiat",
		"fiat":            plan.Currency,
		"accepted_assets": c.asset,
		"amount":          fmt.Sprintf("%.2f", float64(plan.PriceCents)/100.0),
		"description":     plan.Title,
		"payload":         payload,
		"expires_in":      3600,
	}

	result, err := c.request(ctx, "createInvoice", body)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	var inv invoice
	if err = json.Unmarshal(result, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice: %w", err)
	}

	payment := &entity.Payment{
		TelegramId:        telegramId,
		Provider:          entity.ProviderCryptoBot,
		ProviderPaymentId: strconv.FormatInt(inv.InvoiceId, 10),
		Amount:            plan.PriceCents,
		Currency:          plan.Currency,
		Status:            entity.PaymentPending,
		PlanCode:          plan.Code,
		PayURL:            inv.PayUrl,
		InvoicePayload:    payload,
		CreatedAt:         time.Now().UTC(),
	}

	log.Info("invoice created", slog.Int64("invoice_id", inv.InvoiceId))
	return payment, nil
}

// VerifySignature checks the crypto-pay-api-signature header: HMAC-SHA256
// over the raw body, keyed with SHA256 of the API token.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	secret := sha256.Sum256([]byte(c.apiToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(expected), []byte(signature))
	if !isValid {
		c.log.Warn("signature mismatch")
	}
	return isValid
}

// Update is the webhook body for invoice_paid events.
type Update struct {
	UpdateType string  `json:"update_type"`
	Payload    invoice `json:"payload"`
}

// PaidResult describes a paid invoice extracted from a webhook update.
type PaidResult struct {
	InvoiceId  string
	TelegramId int64
	PlanCode   string
}

// HandleUpdate extracts the paid invoice from a webhook update. Returns
// nil for update types we do not act on.
func (c *Client) HandleUpdate(body []byte) *PaidResult {
	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		c.log.Error("parse update", sl.Err(err))
		return nil
	}
	if upd.UpdateType != "invoice_paid" {
		return nil
	}

	result := &PaidResult{
		InvoiceId: strconv.FormatInt(upd.Payload.InvoiceId, 10),
	}
	if _, err := fmt.Sscanf(upd.Payload.Payload, "%d:%s", &result.TelegramId, &result.PlanCode); err != nil {
		c.log.With(
			slog.String("payload", upd.Payload.Payload),
		).Error("invoice payload malformed")
		return nil
	}

	c.log.With(
		slog.String("invoice_id", result.InvoiceId),
		slog.Int64("telegram_id", result.TelegramId),
		slog.String("plan", result.PlanCode),
	).Info("invoice paid")
	return result
}
