package email

import (
	"fmt"
	"net/smtp"
	"sync"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/models"
)

// Sender e-mails card owners about committed ledger events via SMTP.
// Messages are sent in the background; failures are only logged.
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
	wg     sync.WaitGroup
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
	}
	s.send = s.sendSMTP
	return s
}

// TransferCompleted sends a transfer confirmation to the owner
func (s *Sender) TransferCompleted(owner models.OwnerRef, r models.TransferResult) {
	body := fmt.Sprintf("Dear %s,\n\n", owner.Username)
	body += fmt.Sprintf(
		"%s RUB has been transferred from card %s to card %s.\n"+
			"Transfer ID: %s\n"+
			"Transfer time: %s\n"+
			"New balance of %s: %s RUB\n"+
			"New balance of %s: %s RUB\n",
		r.Amount.StringFixed(2), r.FromCardMasked, r.ToCardMasked,
		r.TransferID, r.TransferredAt.Format("2006-01-02 15:04:05"),
		r.FromCardMasked, r.FromCardNewBalance.StringFixed(2),
		r.ToCardMasked, r.ToCardNewBalance.StringFixed(2),
	)
	body += "\nBest regards,\nCard Service"
	s.dispatch(owner.Email, "Transfer Notification", body)
}

// CardBlocked confirms an owner-requested block
func (s *Sender) CardBlocked(owner models.OwnerRef, card models.Card) {
	body := fmt.Sprintf("Dear %s,\n\n", owner.Username)
	body += fmt.Sprintf(
		"Your card %s has been blocked at your request.\n"+
			"Contact the bank to have it reactivated.\n",
		card.MaskedNumber,
	)
	body += "\nBest regards,\nCard Service"
	s.dispatch(owner.Email, "Card Blocked", body)
}

// Wait blocks until every queued message has been handled
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) dispatch(to, subject, body string) {
	if to == "" {
		return
	}
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.send(e); err != nil {
			s.logger.WithError(err).WithField("subject", subject).Errorf("Failed to send email to %s", to)
			return
		}
		s.logger.Infof("Email sent to %s: %s", to, subject)
	}()
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
