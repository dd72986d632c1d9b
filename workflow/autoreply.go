package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chafiq1992/wagateway/config"
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/chafiq1992/wagateway/integrations/shop"
	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/sirupsen/logrus"
)

const autoReplyCooldownTTL = 24 * time.Hour

func autoReplyCooldownKey(userID string) string {
	return "auto_reply_sent:" + userID
}

var (
	idPrefixRe    = regexp.MustCompile(`(?i)ID:\s*(\d+)`)
	urlRe         = regexp.MustCompile(`https?://\S+`)
	variantPathRe = regexp.MustCompile(`/variants/(\d+)`)
	queryParamRe  = regexp.MustCompile(`[?&](?:variant|id)=(\d{6,})`)
	digitRunRe    = regexp.MustCompile(`\d{6,}`)
	anyDigitRe    = regexp.MustCompile(`\d`)
)

// autoReply walks the gate chain and fires at most one reply per user
// per 24 hours.
func (e *Engine) autoReply(ctx context.Context, userID, text string) error {
	if !config.AutoReplyCatalogMatch {
		return nil
	}
	if !whitelisted(userID) {
		return nil
	}
	if e.state.CooldownActive(ctx, autoReplyCooldownKey(userID)) {
		return nil
	}

	// No product hint at all: offer the two entry buttons.
	if !urlRe.MatchString(text) && !anyDigitRe.MatchString(text) {
		_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
			UserID: userID,
			Kind:   string(domain.KindInteractiveButtons),
			Body:   "مرحبا 👋 كيف يمكننا مساعدتك؟\nBonjour 👋 Comment pouvons-nous vous aider ?",
			Buttons: []whatsapp.Button{
				{ID: "buy_item", Title: "🛍️ أريد الشراء"},
				{ID: "order_status", Title: "📦 حالة طلبي"},
			},
		})
		if err != nil {
			return err
		}
		e.state.TrySetCooldown(ctx, autoReplyCooldownKey(userID), autoReplyCooldownTTL)
		metrics.WorkflowRuns.WithLabelValues("auto_reply_buttons").Inc()
		return nil
	}

	if id, ok := ExtractProductID(text); ok {
		if err := e.replyWithProduct(ctx, userID, id); err != nil {
			return err
		}
		e.state.TrySetCooldown(ctx, autoReplyCooldownKey(userID), autoReplyCooldownTTL)
		metrics.WorkflowRuns.WithLabelValues("auto_reply_id").Inc()
		return nil
	}

	if product, variant, score := e.bestNameMatch(ctx, text); product != nil && score >= config.AutoReplyMinScore {
		caption := fmt.Sprintf("%s - %s", product.Title, variant.Price)
		_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
			UserID:         userID,
			Kind:           string(domain.KindImage),
			Caption:        caption,
			MediaPublicURL: variant.ImageURLs[0],
			VariantID:      variant.ID,
		})
		if err != nil {
			return err
		}
		e.state.TrySetCooldown(ctx, autoReplyCooldownKey(userID), autoReplyCooldownTTL)
		metrics.WorkflowRuns.WithLabelValues("auto_reply_fuzzy").Inc()
	}
	return nil
}

// whitelisted checks the digits-only sender against the configured test
// numbers; an empty whitelist admits everyone.
func whitelisted(userID string) bool {
	if len(config.AutoReplyTestNumbers) == 0 {
		return true
	}
	digits := digitsOnly(userID)
	if digits == "" {
		return false
	}
	for _, entry := range config.AutoReplyTestNumbers {
		if digitsOnly(entry) == digits {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractProductID walks the explicit id forms in priority order:
// "ID: <digits>", a variant/id query parameter with >=6 digits, a
// /variants/<digits> path segment, then the last run of >=6 digits in
// free text.
func ExtractProductID(text string) (string, bool) {
	if m := idPrefixRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := queryParamRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := variantPathRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	runs := digitRunRe.FindAllString(text, -1)
	if len(runs) > 0 {
		return runs[len(runs)-1], true
	}
	return "", false
}

// replyWithProduct resolves the id against the shop (variant, then
// product first-variant) and sends the catalog card plus a bilingual
// confirmation prompt.
func (e *Engine) replyWithProduct(ctx context.Context, userID, id string) error {
	var variant *shop.Variant
	if e.shop != nil {
		v, err := e.shop.VariantByID(ctx, id)
		if err != nil {
			logrus.WithError(err).Debug("[WORKFLOW] variant lookup failed")
		}
		variant = v
		if variant == nil {
			if product, err := e.shop.ProductByID(ctx, id); err == nil && product != nil && len(product.Variants) > 0 {
				variant = &product.Variants[0]
			}
		}
	}

	caption := ""
	variantID := id
	if variant != nil {
		caption = fmt.Sprintf("%s - %s", variant.Title, variant.Price)
		variantID = variant.ID
	}

	_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID:     userID,
		Kind:       string(domain.KindCatalogItem),
		Caption:    caption,
		RetailerID: variantID,
		VariantID:  variantID,
	})
	if err != nil {
		return err
	}

	_, err = e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID: userID,
		Kind:   string(domain.KindText),
		Body:   "هل هذا هو المنتج الذي تبحث عنه؟ ✅\nEst-ce le produit que vous recherchez ? ✅",
	})
	return err
}

// bestNameMatch scores every catalog product with at least one image
// against the text and returns the best hit with its scoring variant.
func (e *Engine) bestNameMatch(ctx context.Context, text string) (*shop.Product, *shop.Variant, float64) {
	products := e.products(ctx)
	textTokens := tokenize(text)
	if len(textTokens) == 0 {
		return nil, nil, 0
	}
	joined := strings.Join(textTokens, " ")

	var bestProduct *shop.Product
	var bestVariant *shop.Variant
	bestScore := 0.0
	for i := range products {
		variant := firstVariantWithImage(&products[i])
		if variant == nil {
			continue
		}
		score := scoreName(products[i].Title, textTokens, joined)
		if score > bestScore {
			bestScore = score
			bestProduct = &products[i]
			bestVariant = variant
		}
	}
	return bestProduct, bestVariant, bestScore
}

func firstVariantWithImage(p *shop.Product) *shop.Variant {
	for i := range p.Variants {
		if len(p.Variants[i].ImageURLs) > 0 {
			return &p.Variants[i]
		}
	}
	return nil
}

// scoreName is token overlap over the name's tokens, with a 0.2 bonus
// when the normalized name appears inside the text, clamped to 1.0.
func scoreName(name string, textTokens []string, joinedText string) float64 {
	nameTokens := tokenize(name)
	if len(nameTokens) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(textTokens))
	for _, tok := range textTokens {
		set[tok] = struct{}{}
	}
	overlap := 0
	for _, tok := range nameTokens {
		if _, ok := set[tok]; ok {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(nameTokens))
	if strings.Contains(joinedText, strings.Join(nameTokens, " ")) {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// tokenize lowercases and splits on non-alphanumerics, keeping tokens
// of length >= 2.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isAlnum(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r > 127
}
