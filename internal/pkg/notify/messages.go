package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
)

// Content is one notification rendered for both channels.
type Content struct {
	Type     string
	Title    string
	Message  string
	Subject  string
	HTML     string
	Metadata map[string]any
}

var planNames = map[string]string{
	models.PlanFree:     "Gratis",
	models.PlanMonthly:  "Monatsabo",
	models.PlanSixMonth: "6-Monats-Abo",
	models.PlanAnnual:   "Jahresabo",
}

// PlanName returns the display name of a plan.
func PlanName(plan string) string {
	if name, ok := planNames[plan]; ok {
		return name
	}
	return plan
}

// FormatCHF renders minor units as "CHF 1'234.50".
func FormatCHF(minor int64) string {
	francs := minor / 100
	digits := fmt.Sprintf("%d", francs)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('\'')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("CHF %s.%02d", b.String(), minor%100)
}

func leadLabel(l *models.Lead) string {
	if l.Title != "" {
		return l.Title
	}
	return fmt.Sprintf("Anfrage #%d (%s)", l.ID, l.Category)
}

func render(paragraphs []string, link, linkText string) string {
	var b strings.Builder
	b.WriteString("<div style=\"font-family:sans-serif\">")
	for _, p := range paragraphs {
		b.WriteString("<p>" + html.EscapeString(p) + "</p>")
	}
	if link != "" {
		b.WriteString(fmt.Sprintf("<p><a href=\"%s\">%s</a></p>", html.EscapeString(link), html.EscapeString(linkText)))
	}
	b.WriteString("<p>Freundliche Grüsse<br>Ihr LeadHub-Team</p></div>")
	return b.String()
}

func NewLead(l *models.Lead, link string) Content {
	msg := fmt.Sprintf("Neue Anfrage in Ihrer Region: %s, %s %s.", leadLabel(l), l.PostalCode, l.Canton)
	return Content{
		Type:     models.NotificationNewLead,
		Title:    "Neue Anfrage verfügbar",
		Message:  msg,
		Subject:  "Neue Anfrage: " + leadLabel(l),
		HTML:     render([]string{"Guten Tag", msg, "Reichen Sie jetzt Ihre Offerte ein."}, link, "Anfrage ansehen"),
		Metadata: map[string]any{"lead_id": l.ID, "category": l.Category},
	}
}

func LastChance(l *models.Lead, link string) Content {
	deadline := ""
	if l.ProposalDeadline != nil {
		deadline = l.ProposalDeadline.Format("02.01.2006 15:04")
	}
	msg := fmt.Sprintf("Die Offertfrist für %s endet am %s.", leadLabel(l), deadline)
	return Content{
		Type:     models.NotificationLeadLastChance,
		Title:    "Letzte Chance für Ihre Offerte",
		Message:  msg,
		Subject:  "Letzte Chance: " + leadLabel(l),
		HTML:     render([]string{"Guten Tag", "Sie haben sich diese Anfrage angesehen, aber noch keine Offerte eingereicht.", msg}, link, "Jetzt Offerte einreichen"),
		Metadata: map[string]any{"lead_id": l.ID},
	}
}

func ProposalReceived(l *models.Lead, p *models.Proposal, link string) Content {
	msg := fmt.Sprintf("Sie haben eine neue Offerte für %s erhalten (%s bis %s).", leadLabel(l), FormatCHF(p.PriceMin), FormatCHF(p.PriceMax))
	return Content{
		Type:     models.NotificationProposalReceived,
		Title:    "Neue Offerte erhalten",
		Message:  msg,
		Subject:  "Neue Offerte für " + leadLabel(l),
		HTML:     render([]string{"Guten Tag", msg}, link, "Offerte ansehen"),
		Metadata: map[string]any{"lead_id": l.ID, "proposal_id": p.ID},
	}
}

// ProposalAccepted goes to the provider whose offer won.
func ProposalAccepted(l *models.Lead, p *models.Proposal, link string) Content {
	msg := fmt.Sprintf("Ihre Offerte für %s wurde angenommen. Die Kontaktdaten sind jetzt freigeschaltet.", leadLabel(l))
	return Content{
		Type:     models.NotificationProposalAccepted,
		Title:    "Offerte angenommen",
		Message:  msg,
		Subject:  "Ihre Offerte wurde angenommen",
		HTML:     render([]string{"Guten Tag", msg}, link, "Kontaktdaten ansehen"),
		Metadata: map[string]any{"lead_id": l.ID, "proposal_id": p.ID},
	}
}

// AcceptanceConfirmed goes to the owner after accepting an offer.
func AcceptanceConfirmed(l *models.Lead, p *models.Proposal, link string) Content {
	msg := fmt.Sprintf("Sie haben eine Offerte für %s angenommen. Die Kontaktdaten des Anbieters sind jetzt freigeschaltet.", leadLabel(l))
	return Content{
		Type:     models.NotificationProposalAccepted,
		Title:    "Auftrag vergeben",
		Message:  msg,
		Subject:  "Bestätigung: Offerte angenommen",
		HTML:     render([]string{"Guten Tag", msg}, link, "Zur Unterhaltung"),
		Metadata: map[string]any{"lead_id": l.ID, "proposal_id": p.ID},
	}
}

func ProposalRejected(l *models.Lead, p *models.Proposal) Content {
	msg := fmt.Sprintf("Der Auftraggeber hat sich bei %s für ein anderes Angebot entschieden. Vielen Dank für Ihre Offerte.", leadLabel(l))
	return Content{
		Type:     models.NotificationProposalRejected,
		Title:    "Anfrage anderweitig vergeben",
		Message:  msg,
		Subject:  "Update zu Ihrer Offerte",
		HTML:     render([]string{"Guten Tag", msg, "Weitere passende Anfragen erhalten Sie wie gewohnt per E-Mail."}, "", ""),
		Metadata: map[string]any{"lead_id": l.ID, "proposal_id": p.ID},
	}
}

func ProposalWithdrawn(l *models.Lead) Content {
	msg := fmt.Sprintf("Die Anfrage %s ist abgelaufen. Ihre Offerte wurde zurückgezogen.", leadLabel(l))
	return Content{
		Type:     models.NotificationProposalWithdrawn,
		Title:    "Anfrage abgelaufen",
		Message:  msg,
		Subject:  "Anfrage abgelaufen: " + leadLabel(l),
		HTML:     render([]string{"Guten Tag", msg}, "", ""),
		Metadata: map[string]any{"lead_id": l.ID},
	}
}

func LeadExpired(l *models.Lead) Content {
	msg := fmt.Sprintf("Die Offertfrist für %s ist abgelaufen. Sie können jederzeit eine neue Anfrage erstellen.", leadLabel(l))
	return Content{
		Type:     models.NotificationLeadExpired,
		Title:    "Anfrage abgelaufen",
		Message:  msg,
		Subject:  "Ihre Anfrage ist abgelaufen",
		HTML:     render([]string{"Guten Tag", msg}, "", ""),
		Metadata: map[string]any{"lead_id": l.ID},
	}
}

func DecisionReminder(l *models.Lead, pending int64, link string) Content {
	msg := fmt.Sprintf("Für %s liegen %d Offerten vor. Die Frist läuft bald ab.", leadLabel(l), pending)
	return Content{
		Type:     models.NotificationDecisionReminder,
		Title:    "Offerten warten auf Ihre Entscheidung",
		Message:  msg,
		Subject:  "Erinnerung: Offerten prüfen",
		HTML:     render([]string{"Guten Tag", msg}, link, "Offerten vergleichen"),
		Metadata: map[string]any{"lead_id": l.ID, "pending": pending},
	}
}

func PaymentConfirmed(plan string, periodEnd time.Time) Content {
	msg := fmt.Sprintf("Ihr %s ist aktiv bis %s. Sie können unbegrenzt Offerten einreichen.", PlanName(plan), periodEnd.Format("02.01.2006"))
	return Content{
		Type:     models.NotificationPaymentConfirmed,
		Title:    "Zahlung bestätigt",
		Message:  msg,
		Subject:  "Zahlungsbestätigung",
		HTML:     render([]string{"Guten Tag", "Vielen Dank für Ihre Zahlung.", msg}, "", ""),
		Metadata: map[string]any{"plan": plan},
	}
}

func PaymentFailed(plan string) Content {
	msg := fmt.Sprintf("Die Zahlung für das %s konnte nicht abgeschlossen werden.", PlanName(plan))
	return Content{
		Type:     models.NotificationPaymentFailed,
		Title:    "Zahlung fehlgeschlagen",
		Message:  msg,
		Subject:  "Zahlung fehlgeschlagen",
		HTML:     render([]string{"Guten Tag", msg, "Bitte versuchen Sie es erneut oder wählen Sie eine andere Zahlungsart."}, "", ""),
		Metadata: map[string]any{"plan": plan},
	}
}

func SubscriptionExpired(plan string) Content {
	msg := fmt.Sprintf("Ihr %s ist abgelaufen. Sie nutzen jetzt das Gratis-Angebot mit %d Offerten pro Monat.", PlanName(plan), models.FreeProposalsLimit)
	return Content{
		Type:     models.NotificationSubscriptionExpired,
		Title:    "Abo abgelaufen",
		Message:  msg,
		Subject:  "Ihr Abo ist abgelaufen",
		HTML:     render([]string{"Guten Tag", msg}, "", ""),
		Metadata: map[string]any{"plan": plan},
	}
}
