package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/infrastructure/whatsapp"
	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/chafiq1992/wagateway/pkg/timeutils"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/sirupsen/logrus"
)

const (
	surveyInviteCooldownTTL = 30 * 24 * time.Hour
	surveyStateTTL          = 3 * 24 * time.Hour
	surveyDoneTTL           = 7 * 24 * time.Hour

	// Conversations only qualify once the agent side has been quiet
	// this long.
	surveyQuietAge = 4 * time.Hour

	// invoiceCaptionMark flags conversations that already received an
	// invoice image; those never get the survey.
	invoiceCaptionMark = "فاتورتك"
)

func surveyInviteKey(userID string) string { return "survey_invited:" + userID }
func surveyStateKey(userID string) string  { return "survey_state:" + userID }

type surveyState struct {
	Stage       string `json:"stage"` // start | rating | improvement | done
	Rating      int    `json:"rating,omitempty"`
	Improvement string `json:"improvement,omitempty"`
}

// surveySweep scans conversations and invites every one that qualifies.
func (e *Engine) surveySweep(ctx context.Context) {
	conversations, err := e.store.ListConversations(ctx, domain.ConversationFilter{})
	if err != nil {
		logrus.WithError(err).Warn("[SURVEY] sweep failed to list conversations")
		return
	}
	for _, conv := range conversations {
		if e.shouldInvite(ctx, conv) {
			e.sendInvite(ctx, conv.UserID)
		}
	}
}

func (e *Engine) shouldInvite(ctx context.Context, conv domain.ConversationSummary) bool {
	if IsInternal(conv.UserID) {
		return false
	}
	if conv.UnrespondedCount != 0 {
		return false
	}
	if conv.LastOutboundTime == "" {
		return false
	}
	lastOut := timeutils.ParseISO(conv.LastOutboundTime)
	if lastOut.IsZero() || e.now().Sub(lastOut) <= surveyQuietAge {
		return false
	}
	if e.state.CooldownActive(ctx, surveyInviteKey(conv.UserID)) {
		return false
	}
	invoiced, err := e.store.HasOutboundImageCaption(ctx, conv.UserID, invoiceCaptionMark)
	if err != nil {
		logrus.WithError(err).Debug("[SURVEY] invoice check failed")
		return false
	}
	return !invoiced
}

func (e *Engine) sendInvite(ctx context.Context, userID string) {
	if !e.state.TrySetCooldown(ctx, surveyInviteKey(userID), surveyInviteCooldownTTL) {
		return
	}
	e.state.SetJSON(ctx, surveyStateKey(userID), surveyState{Stage: "start"}, surveyStateTTL)

	_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID: userID,
		Kind:   string(domain.KindInteractiveButtons),
		Body: "نود معرفة رأيك في تجربتك معنا 🌟 هل لديك دقيقة؟\n" +
			"Nous aimerions connaître votre avis sur votre expérience 🌟 Avez-vous une minute ?",
		Buttons: []whatsapp.Button{
			{ID: "survey_start_ok", Title: "نعم / Oui ✅"},
			{ID: "survey_decline", Title: "لا / Non"},
		},
	})
	if err != nil {
		// Release the markers so the next sweep can retry; otherwise a
		// transient send failure silences this user for 30 days.
		e.state.Delete(ctx, surveyInviteKey(userID))
		e.state.Delete(ctx, surveyStateKey(userID))
		logrus.WithError(err).WithField("user_id", userID).Warn("[SURVEY] invite send failed")
		return
	}
	metrics.WorkflowRuns.WithLabelValues("survey_invite").Inc()
	logrus.WithField("user_id", userID).Info("[SURVEY] invite sent")
}

// handleSurveyReply advances the per-user state machine.
func (e *Engine) handleSurveyReply(ctx context.Context, userID, replyID string) {
	metrics.WorkflowRuns.WithLabelValues("survey_reply").Inc()

	var state surveyState
	e.state.GetJSON(ctx, surveyStateKey(userID), &state)

	switch {
	case replyID == "survey_start_ok":
		state.Stage = "rating"
		e.state.SetJSON(ctx, surveyStateKey(userID), state, surveyStateTTL)
		e.sendRatingList(ctx, userID)

	case replyID == "survey_decline":
		e.state.Delete(ctx, surveyStateKey(userID))
		e.state.TrySetCooldown(ctx, surveyInviteKey(userID), surveyInviteCooldownTTL)
		e.sendText(ctx, userID, "شكرا لك، نتمنى لك يوما سعيدا 🌸\nMerci, nous vous souhaitons une bonne journée 🌸")

	case strings.HasPrefix(replyID, "survey_rate_"):
		n, _ := strconv.Atoi(strings.TrimPrefix(replyID, "survey_rate_"))
		if n < 1 {
			n = 1
		}
		if n > 5 {
			n = 5
		}
		state.Stage = "improvement"
		state.Rating = n
		e.state.SetJSON(ctx, surveyStateKey(userID), state, surveyStateTTL)
		e.sendImprovementList(ctx, userID)

	case strings.HasPrefix(replyID, "survey_improve_"):
		state.Stage = "done"
		state.Improvement = strings.TrimPrefix(replyID, "survey_improve_")
		e.state.SetJSON(ctx, surveyStateKey(userID), state, surveyDoneTTL)
		e.state.TrySetCooldown(ctx, surveyInviteKey(userID), surveyInviteCooldownTTL)
		e.sendSummary(ctx, userID, state)
	}
}

func (e *Engine) sendRatingList(ctx context.Context, userID string) {
	rows := make([]whatsapp.ListRow, 0, 5)
	for i := 1; i <= 5; i++ {
		rows = append(rows, whatsapp.ListRow{
			ID:    fmt.Sprintf("survey_rate_%d", i),
			Title: strings.Repeat("⭐", i),
		})
	}
	_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID:  userID,
		Kind:    string(domain.KindInteractiveList),
		Body:    "كيف تقيم تجربتك معنا؟\nComment évaluez-vous votre expérience ?",
		Caption: "التقييم / Note",
		Sections: []whatsapp.ListSection{
			{Title: "التقييم / Note", Rows: rows},
		},
	})
	if err != nil {
		logrus.WithError(err).Warn("[SURVEY] rating list send failed")
	}
}

// improvements maps the reply suffix to its bilingual label.
var improvements = []struct {
	ID string
	Ar string
	Fr string
}{
	{"quality", "منتجات ذات جودة أعلى", "Produits de meilleure qualité"},
	{"price", "أسعار أفضل", "De meilleurs prix"},
	{"delivery", "توصيل أسرع", "Une livraison plus rapide"},
	{"service", "خدمة عملاء أفضل", "Un meilleur service client"},
}

func (e *Engine) sendImprovementList(ctx context.Context, userID string) {
	rows := make([]whatsapp.ListRow, 0, len(improvements))
	for _, imp := range improvements {
		rows = append(rows, whatsapp.ListRow{
			ID:          "survey_improve_" + imp.ID,
			Title:       imp.Ar,
			Description: imp.Fr,
		})
	}
	_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID:  userID,
		Kind:    string(domain.KindInteractiveList),
		Body:    "ما الذي يمكننا تحسينه؟\nQue pouvons-nous améliorer ?",
		Caption: "اختر / Choisir",
		Sections: []whatsapp.ListSection{
			{Title: "التحسينات / Améliorations", Rows: rows},
		},
	})
	if err != nil {
		logrus.WithError(err).Warn("[SURVEY] improvement list send failed")
	}
}

func (e *Engine) sendSummary(ctx context.Context, userID string, state surveyState) {
	arLabel, frLabel := "", ""
	for _, imp := range improvements {
		if imp.ID == state.Improvement {
			arLabel, frLabel = imp.Ar, imp.Fr
			break
		}
	}
	stars := strings.Repeat("⭐", state.Rating)
	body := fmt.Sprintf(
		"شكرا جزيلا على وقتك! 🙏\nتقييمك: %s\nاقتراحك: %s\n\nMerci beaucoup pour votre temps ! 🙏\nVotre note : %s\nVotre suggestion : %s",
		stars, arLabel, stars, frLabel,
	)
	e.sendText(ctx, userID, body)
}

func (e *Engine) sendText(ctx context.Context, userID, body string) {
	_, err := e.sender.ProcessOutgoing(ctx, processor.OutgoingMessage{
		UserID: userID,
		Kind:   string(domain.KindText),
		Body:   body,
	})
	if err != nil {
		logrus.WithError(err).Warn("[SURVEY] text send failed")
	}
}
