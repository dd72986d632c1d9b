package workflow

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/sirupsen/logrus"
)

const orderStatusFallback = "لم نجد طلبات حديثة مرتبطة برقمك. سيتواصل معك أحد موظفينا قريبا 📞\n" +
	"Nous n'avons pas trouvé de commandes récentes liées à votre numéro. Un agent vous contactera bientôt 📞"

// handleOrderStatus summarizes the customer's recent orders and follows
// with up to two variant images.
func (e *Engine) handleOrderStatus(ctx context.Context, userID string) {
	if e.shop == nil {
		e.sendText(ctx, userID, orderStatusFallback)
		return
	}

	customer, err := e.shop.CustomerByPhone(ctx, userID)
	if err != nil || customer == nil {
		if err != nil {
			logrus.WithError(err).Debug("[WORKFLOW] customer lookup failed")
		}
		e.sendText(ctx, userID, orderStatusFallback)
		return
	}

	orders, err := e.shop.RecentOrders(ctx, customer.ID)
	if err != nil || len(orders) == 0 {
		if err != nil {
			logrus.WithError(err).Debug("[WORKFLOW] order lookup failed")
		}
		e.sendText(ctx, userID, orderStatusFallback)
		return
	}

	if len(orders) > 3 {
		orders = orders[:3]
	}

	var b strings.Builder
	b.WriteString("📦 طلباتك الأخيرة / Vos commandes récentes:\n")
	var imageVariants []string
	for _, order := range orders {
		fmt.Fprintf(&b, "\n%s — %s %s (%s)\n", order.Name, order.Total, order.Currency, translateStatus(order.FulfillmentStatus))
		for _, line := range order.LineItems {
			fmt.Fprintf(&b, "  • %s", line.Title)
			if line.VariantTitle != "" {
				fmt.Fprintf(&b, " (%s)", line.VariantTitle)
			}
			fmt.Fprintf(&b, " x%d\n", line.Quantity)
			if line.VariantID != "" && len(imageVariants) < 2 {
				imageVariants = append(imageVariants, line.VariantID)
			}
		}
		if order.TrackingURL != "" {
			fmt.Fprintf(&b, "  🔗 %s\n", order.TrackingURL)
		}
	}
	e.sendText(ctx, userID, b.String())

	for _, variantID := range imageVariants {
		urls, err := e.shop.VariantImages(ctx, variantID)
		if err != nil || len(urls) == 0 {
			continue
		}
		variant, _ := e.shop.VariantByID(ctx, variantID)
		caption := ""
		if variant != nil {
			caption = fmt.Sprintf("%s - %s", variant.Title, variant.Price)
		}
		_, err = e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
			UserID:         userID,
			Kind:           string(domain.KindImage),
			Caption:        caption,
			MediaPublicURL: urls[0],
			VariantID:      variantID,
		})
		if err != nil {
			logrus.WithError(err).Debug("[WORKFLOW] order image send failed")
		}
	}
}

func translateStatus(s string) string {
	switch strings.ToLower(s) {
	case "fulfilled", "delivered":
		return "تم التوصيل / Livrée"
	case "shipped", "in_transit":
		return "في الطريق / En route"
	case "pending", "unfulfilled", "":
		return "قيد التحضير / En préparation"
	case "cancelled":
		return "ملغاة / Annulée"
	default:
		return s
	}
}

// handleBuyItem opens the gender selection list.
func (e *Engine) handleBuyItem(ctx context.Context, userID string) {
	_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID:  userID,
		Kind:    string(domain.KindInteractiveList),
		Body:    "لمن تريد الشراء؟\nPour qui souhaitez-vous acheter ?",
		Caption: "اختر / Choisir",
		Sections: []whatsapp.ListSection{
			{
				Title: "الفئة / Catégorie",
				Rows: []whatsapp.ListRow{
					{ID: "gender_girls", Title: "👧 بنات / Filles"},
					{ID: "gender_boys", Title: "👦 أولاد / Garçons"},
				},
			},
		},
	})
	if err != nil {
		logrus.WithError(err).Warn("[WORKFLOW] buy list send failed")
	}
}

// handleGender asks for age and shoe size within the catalog's ranges.
func (e *Engine) handleGender(ctx context.Context, userID, replyID string) {
	var body string
	switch replyID {
	case "gender_girls":
		body = "رائع! 👧 من فضلك أرسل لنا عمر طفلتك (من 0 شهر إلى 7 سنوات) ومقاس حذائها (من 16 إلى 38).\n" +
			"Parfait ! 👧 Envoyez-nous l'âge de votre fille (0 mois à 7 ans) et sa pointure (16 à 38)."
	case "gender_boys":
		body = "رائع! 👦 من فضلك أرسل لنا عمر طفلك (من 0 شهر إلى 10 سنوات) ومقاس حذائه (من 16 إلى 38).\n" +
			"Parfait ! 👦 Envoyez-nous l'âge de votre garçon (0 mois à 10 ans) et sa pointure (16 à 38)."
	default:
		return
	}
	e.sendText(ctx, userID, body)
}
