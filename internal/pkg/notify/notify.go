package notify

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/mail"
)

// SuspensionNotifier persists a billing notification for the affected user
// and sends an email. It implements renewal.Notifier; failures are logged
// and swallowed so a broken mailer can never fail a renewal pass.
type SuspensionNotifier struct {
	db *gorm.DB
}

func NewSuspensionNotifier(db *gorm.DB) *SuspensionNotifier {
	return &SuspensionNotifier{db: db}
}

func (n *SuspensionNotifier) NotifySuspension(sub *models.Subscription, reason string) {
	content := fmt.Sprintf(
		"Your %s subscription was suspended after repeated failed renewal payments (%s). "+
			"Update your payment method to reactivate it.",
		sub.PlanType, reason,
	)

	if err := models.CreateNotification(n.db, sub.UserID, models.NotificationTypeBilling, content, sub.ID); err != nil {
		log.Errorf("[Notify] Failed to store suspension notification for user %d: %v", sub.UserID, err)
	}

	var user models.User
	if err := n.db.First(&user, sub.UserID).Error; err != nil {
		log.Errorf("[Notify] Cannot load user %d for suspension email: %v", sub.UserID, err)
		return
	}

	subject := "Your subscription has been suspended"
	if err := mail.SendMail(user.Email, subject, content); err != nil {
		log.Errorf("[Notify] Suspension email to %s failed: %v", user.Email, err)
	}
}
