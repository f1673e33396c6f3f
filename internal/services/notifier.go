package services

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

// ContactNotifier reaches followers that have no open connection through
// their e-mail address or linked Telegram chat. Either channel may be nil.
type ContactNotifier struct {
	persons  repositories.PersonRepository
	email    EmailService
	telegram TelegramSender
	baseURL  string
}

func NewContactNotifier(persons repositories.PersonRepository, email EmailService, telegram TelegramSender, baseURL string) *ContactNotifier {
	return &ContactNotifier{persons: persons, email: email, telegram: telegram, baseURL: baseURL}
}

func (n *ContactNotifier) NotifyOffline(ctx context.Context, recipients []int64, msg *models.NotificationMessage) {
	people, err := n.persons.ListByIDs(ctx, recipients)
	if err != nil {
		glog.Warningf("[notify] load recipients %v: %v", recipients, err)
		return
	}

	text := describeChange(msg)
	subject := fmt.Sprintf("[%s] %s", msg.TaskName, text)
	for _, p := range people {
		if ctx.Err() != nil {
			glog.Warningf("[notify] gave up after %d recipients: %v", len(people), ctx.Err())
			return
		}
		if n.email != nil && p.Email != "" {
			if err := n.email.SendNotification(p.Email, subject, text, n.baseURL); err != nil {
				glog.Warningf("[notify] email to person %d: %v", p.ID, err)
			}
		}
		if n.telegram != nil && p.TelegramChatID != 0 {
			if err := n.telegram.SendMessage(p.TelegramChatID, subject); err != nil {
				glog.Warningf("[notify] telegram to person %d: %v", p.ID, err)
			}
		}
	}
}

func describeChange(msg *models.NotificationMessage) string {
	task := msg.TaskName
	if task == "" {
		task = fmt.Sprintf("task #%d", msg.TaskID)
	}
	switch msg.ChangeType {
	case models.ChangeCreate:
		return fmt.Sprintf("%s #%d created on %s", msg.EntityID, msg.TargetID, task)
	case models.ChangeDelete:
		return fmt.Sprintf("%s #%d removed from %s", msg.EntityID, msg.TargetID, task)
	}
	if msg.PropertyName == "delete_date" && msg.NewValue != nil {
		return fmt.Sprintf("%s #%d deleted on %s", msg.EntityID, msg.TargetID, task)
	}
	return fmt.Sprintf("%s.%s changed to %v on %s", msg.EntityID, msg.PropertyName, msg.NewValue, task)
}
