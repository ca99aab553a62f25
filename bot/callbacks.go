package bot

import (
	"fmt"
	"strings"
	"vpnbot/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// Callback data prefixes for inline keyboard buttons.
// Telegram limits callback data to 64 bytes, so prefixes are kept short.
// Format: prefix + value (e.g., "pl:monthly", "pay:stripe:monthly", "tc:payment").
const (
	cbPlan           = "pl:"
	cbPay            = "pay:"
	cbTicketCategory = "tc:"
)

// --- Keyboard builders ---

// buildPlansKeyboard creates one button per configured plan.
func buildPlansKeyboard(plans []entity.Plan) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, plan := range plans {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			{Text: plan.Title, CallbackData: cbPlan + plan.Code},
		})
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// buildPayKeyboard offers the enabled payment providers for a plan.
func (t *TgBot) buildPayKeyboard(planCode string) tgbotapi.InlineKeyboardMarkup {
	var buttons []tgbotapi.InlineKeyboardButton
	if t.conf.Stripe.Enabled {
		buttons = append(buttons, tgbotapi.InlineKeyboardButton{
			Text: "Card", CallbackData: cbPay + "stripe:" + planCode,
		})
	}
	if t.conf.CryptoBot.Enabled {
		buttons = append(buttons, tgbotapi.InlineKeyboardButton{
			Text: "Crypto", CallbackData: cbPay + "crypto:" + planCode,
		})
	}
	buttons = append(buttons, tgbotapi.InlineKeyboardButton{
		Text: "Telegram Stars", CallbackData: cbPay + "stars:" + planCode,
	})
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{buttons},
	}
}

// buildTicketCategoryKeyboard creates category buttons in rows of 2.
func buildTicketCategoryKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(entity.TicketCategories)/2+1)
	var row []tgbotapi.InlineKeyboardButton
	for i, category := range entity.TicketCategories {
		row = append(row, tgbotapi.InlineKeyboardButton{
			Text:         string(category),
			CallbackData: cbTicketCategory + string(category),
		})
		if len(row) == 2 || i == len(entity.TicketCategories)-1 {
			rows = append(rows, row)
			row = nil
		}
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// --- Callback handlers ---

// onPlanCallback shows the payment provider choice for the selected plan.
func (t *TgBot) onPlanCallback(_ *tgbotapi.Bot, ectx *ext.Context) error {
	cq := ectx.CallbackQuery
	chatId := cq.From.Id

	planCode := strings.TrimPrefix(cq.Data, cbPlan)
	plan, err := t.core.PlanByCode(planCode)
	if err != nil {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Unknown plan"})
		return nil
	}

	t.sendWithKeyboard(chatId,
		fmt.Sprintf("How would you like to pay for *%s*?", Sanitize(plan.Title)),
		t.buildPayKeyboard(plan.Code))
	_, _ = cq.Answer(t.api, nil)
	return nil
}

// onPayCallback starts the checkout with the chosen provider.
func (t *TgBot) onPayCallback(_ *tgbotapi.Bot, ectx *ext.Context) error {
	cq := ectx.CallbackQuery
	chatId := cq.From.Id

	parts := strings.SplitN(strings.TrimPrefix(cq.Data, cbPay), ":", 2)
	if len(parts) != 2 {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Bad request"})
		return nil
	}
	provider, planCode := parts[0], parts[1]

	ctx, cancel := t.requestCtx()
	defer cancel()
	user := t.resolveUser(ctx, ectx)
	if user == nil {
		_, _ = cq.Answer(t.api, nil)
		return nil
	}

	switch provider {
	case "stripe":
		payment, err := t.core.BeginStripeCheckout(ctx, user, planCode)
		if err != nil {
			t.reportError(chatId, "pay:stripe", err)
			_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Payment unavailable"})
			return nil
		}
		t.plainResponse(chatId, fmt.Sprintf("Pay with card:\n%s", Sanitize(payment.PayURL)))

	case "crypto":
		payment, err := t.core.BeginCryptoInvoice(ctx, user, planCode)
		if err != nil {
			t.reportError(chatId, "pay:crypto", err)
			_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Payment unavailable"})
			return nil
		}
		t.plainResponse(chatId, fmt.Sprintf("Pay with crypto:\n%s", Sanitize(payment.PayURL)))

	case "stars":
		if err := t.sendStarsInvoice(chatId, planCode); err != nil {
			t.reportError(chatId, "pay:stars", err)
			_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Payment unavailable"})
			return nil
		}

	default:
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Unknown provider"})
		return nil
	}

	_, _ = cq.Answer(t.api, nil)
	return nil
}

// sendStarsInvoice opens a native Telegram Stars invoice. The plan code
// rides in the invoice payload and comes back with successful_payment.
func (t *TgBot) sendStarsInvoice(chatId int64, planCode string) error {
	plan, err := t.core.PlanByCode(planCode)
	if err != nil {
		return err
	}
	_, err = t.api.SendInvoice(chatId, plan.Title,
		fmt.Sprintf("%d days, %d GB", plan.Days, plan.DataLimitGB),
		plan.Code, "XTR",
		[]tgbotapi.LabeledPrice{{Label: plan.Title, Amount: plan.PriceStars}},
		nil)
	return err
}

// onPreCheckout approves the Stars payment if the plan still exists.
func (t *TgBot) onPreCheckout(_ *tgbotapi.Bot, ectx *ext.Context) error {
	pcq := ectx.PreCheckoutQuery
	if _, err := t.core.PlanByCode(pcq.InvoicePayload); err != nil {
		_, _ = pcq.Answer(t.api, false, &tgbotapi.AnswerPreCheckoutQueryOpts{
			ErrorMessage: "This plan is no longer available.",
		})
		return nil
	}
	_, _ = pcq.Answer(t.api, true, nil)
	return nil
}

// onSuccessfulPayment settles a confirmed Stars purchase.
func (t *TgBot) onSuccessfulPayment(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	payment := ectx.EffectiveMessage.SuccessfulPayment

	ctx, cancel := t.requestCtx()
	defer cancel()
	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	err := t.core.RecordStarsPayment(ctx, user, payment.InvoicePayload, payment.TelegramPaymentChargeId)
	if err != nil {
		t.reportError(chatId, "stars:settle", err)
		return nil
	}

	t.plainResponse(chatId, "Payment received\\! Use /config to get your connection link\\.")
	return nil
}

// onTicketCategoryCallback stores the chosen category and asks for the text.
func (t *TgBot) onTicketCategoryCallback(_ *tgbotapi.Bot, ectx *ext.Context) error {
	cq := ectx.CallbackQuery
	chatId := cq.From.Id

	category := entity.TicketCategory(strings.TrimPrefix(cq.Data, cbTicketCategory))
	valid := false
	for _, known := range entity.TicketCategories {
		if category == known {
			valid = true
			break
		}
	}
	if !valid {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Unknown category"})
		return nil
	}

	t.setPendingTicket(chatId, category)
	t.plainResponse(chatId, "Describe your issue in one message\\.")
	_, _ = cq.Answer(t.api, nil)
	return nil
}
