package dispatch

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/models"
	templates "github.com/lawline/dispatch-api/templates/html"
)

// Notifier receives dispatch events. Implementations must be fire-and-forget:
// a slow or failing notifier never blocks or rolls back a transition. The
// call's persisted state is the source of truth, not the notification.
type Notifier interface {
	NotifyAssignment(callID, lawyerID string)
	NotifyStatusChange(callID string, status models.CallStatus)
	NotifyEscalation(callID string)
}

// LogNotifier writes every event to the log. Always installed; doubles as
// the audit trail for dispatch decisions.
type LogNotifier struct{}

// NotifyAssignment logs an assignment offer.
func (LogNotifier) NotifyAssignment(callID, lawyerID string) {
	zap.S().Infow("assignment offered", "callID", callID, "lawyerID", lawyerID)
}

// NotifyStatusChange logs a status transition.
func (LogNotifier) NotifyStatusChange(callID string, status models.CallStatus) {
	zap.S().Infow("call status changed", "callID", callID, "status", status)
}

// NotifyEscalation logs an escalation.
func (LogNotifier) NotifyEscalation(callID string) {
	zap.S().Warnw("call escalated, operator intervention required", "callID", callID)
}

// MultiNotifier fans an event out to several notifiers.
type MultiNotifier []Notifier

// NotifyAssignment fans out an assignment event.
func (m MultiNotifier) NotifyAssignment(callID, lawyerID string) {
	for _, n := range m {
		n.NotifyAssignment(callID, lawyerID)
	}
}

// NotifyStatusChange fans out a status change event.
func (m MultiNotifier) NotifyStatusChange(callID string, status models.CallStatus) {
	for _, n := range m {
		n.NotifyStatusChange(callID, status)
	}
}

// NotifyEscalation fans out an escalation event.
func (m MultiNotifier) NotifyEscalation(callID string) {
	for _, n := range m {
		n.NotifyEscalation(callID)
	}
}

// EscalationMailer emails operators when a call runs out of dispatch
// attempts. Assignment and status traffic is too chatty for email, so those
// events are ignored.
type EscalationMailer struct {
	APIKey string
	From   string
	To     string
}

// NotifyAssignment is a no-op for the mailer.
func (EscalationMailer) NotifyAssignment(string, string) {}

// NotifyStatusChange is a no-op for the mailer.
func (EscalationMailer) NotifyStatusChange(string, models.CallStatus) {}

// NotifyEscalation sends the escalation alert email in the background.
func (e EscalationMailer) NotifyEscalation(callID string) {
	if e.APIKey == "" || e.From == "" || e.To == "" {
		zap.S().Debugw("escalation mailer not configured, skipping email", "callID", callID)
		return
	}
	go func() {
		from := mail.NewEmail("Dispatch", e.From)
		to := mail.NewEmail("Operations", e.To)
		subject := fmt.Sprintf("Emergency call %s escalated", callID)
		body := fmt.Sprintf("Emergency call %s exhausted all dispatch attempts and needs an operator.", callID)
		message := mail.NewSingleEmail(from, subject, to, body, templates.RenderEscalationEmail(subject, body))

		client := sendgrid.NewSendClient(e.APIKey)
		response, err := client.Send(message)
		if err != nil {
			zap.S().Errorw("failed to send escalation email", "callID", callID, "error", err)
			return
		}
		if response.StatusCode >= 300 {
			zap.S().Warnw("escalation email sent with non-2xx status", "callID", callID, "statusCode", response.StatusCode)
		}
	}()
}
