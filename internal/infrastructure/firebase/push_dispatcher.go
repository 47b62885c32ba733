package firebase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"

	"tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
	"tradeup/pkg/utils"
)

// MulticastSender is the part of the FCM client the dispatcher needs.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// PushDispatcher delivers notifications to a user's devices through FCM.
// Each event id is pushed at most once.
type PushDispatcher struct {
	sender  MulticastSender
	users   repository.UserRepository
	log     repository.NotificationLogRepository
	timeout time.Duration
}

func NewPushDispatcher(sender MulticastSender, users repository.UserRepository, log repository.NotificationLogRepository, timeout time.Duration) *PushDispatcher {
	return &PushDispatcher{
		sender:  sender,
		users:   users,
		log:     log,
		timeout: timeout,
	}
}

func (d *PushDispatcher) NotifyNewMessage(ctx context.Context, n service.NewMessageNotification) error {
	return d.push(ctx, n.EventID, n.ReceiverID, &messaging.Notification{
		Title: n.SenderName,
		Body:  n.Preview,
	}, map[string]string{
		"type":           "message",
		"conversationId": n.ConversationID,
		"senderId":       n.SenderID,
	})
}

func (d *PushDispatcher) NotifyOfferEvent(ctx context.Context, n service.OfferNotification) error {
	title, body := offerText(n)
	return d.push(ctx, n.EventID, n.RecipientID, &messaging.Notification{
		Title: title,
		Body:  body,
	}, map[string]string{
		"type":           string(n.Kind),
		"offerId":        n.OfferID,
		"conversationId": n.ConversationID,
		"productId":      n.ProductID,
		"amount":         strconv.FormatInt(n.Amount, 10),
	})
}

func (d *PushDispatcher) push(ctx context.Context, eventID, userID string, notification *messaging.Notification, data map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return errors.FromRemote("load push recipient", err)
	}
	if len(user.FCMTokens) == 0 {
		logger.Debug("Push: %s has no registered devices", userID)
		return nil
	}

	if d.log != nil {
		first, err := d.log.Claim(ctx, eventID)
		if err != nil {
			return errors.FromRemote("claim notification", err)
		}
		if !first {
			logger.Debug("Push: event %s already delivered", eventID)
			return nil
		}
	}

	data["eventId"] = eventID
	resp, err := d.sender.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       user.FCMTokens,
		Notification: notification,
		Data:         data,
	})
	if err != nil {
		return errors.RemoteUnavailable("push notification failed", err)
	}
	if resp.FailureCount > 0 {
		logger.Warn("Push: event %s reached %d of %d devices of %s", eventID, resp.SuccessCount, len(user.FCMTokens), userID)
	}
	if resp.SuccessCount == 0 {
		return errors.RemoteUnavailable("push notification reached no device", nil)
	}
	return nil
}

func offerText(n service.OfferNotification) (string, string) {
	amount := utils.FormatAmount(n.Amount) + " VNĐ"
	switch n.Kind {
	case service.OfferEventCountered:
		return "Counter Offer", fmt.Sprintf("%s countered with %s for %s", n.CounterpartyName, amount, n.ProductTitle)
	case service.OfferEventAccepted:
		return "Offer Accepted", fmt.Sprintf("%s accepted your offer of %s for %s", n.CounterpartyName, amount, n.ProductTitle)
	case service.OfferEventDeclined:
		return "Offer Declined", fmt.Sprintf("%s declined your offer for %s", n.CounterpartyName, n.ProductTitle)
	}
	return "New Price Offer", fmt.Sprintf("%s offered %s for %s", n.CounterpartyName, amount, n.ProductTitle)
}
