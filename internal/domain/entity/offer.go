package entity

import "time"

type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "PENDING"
	OfferStatusAccepted  OfferStatus = "ACCEPTED"
	OfferStatusDeclined  OfferStatus = "DECLINED"
	OfferStatusCountered OfferStatus = "COUNTERED"
	OfferStatusExpired   OfferStatus = "EXPIRED"

	// offerStatusRejected is the legacy spelling of DECLINED.
	offerStatusRejected OfferStatus = "REJECTED"
)

// NormalizeOfferStatus folds legacy spellings into the canonical status.
func NormalizeOfferStatus(s OfferStatus) OfferStatus {
	if s == offerStatusRejected {
		return OfferStatusDeclined
	}
	return s
}

func (s OfferStatus) IsTerminal() bool {
	switch NormalizeOfferStatus(s) {
	case OfferStatusAccepted, OfferStatusDeclined, OfferStatusCountered, OfferStatusExpired:
		return true
	}
	return false
}

type Offer struct {
	ID             string      `json:"id" firestore:"id"`
	ConversationID string      `json:"conversation_id" firestore:"conversationId"`
	ProductID      string      `json:"product_id" firestore:"productId"`
	ProductTitle   string      `json:"product_title" firestore:"productTitle"`
	SenderID       string      `json:"sender_id" firestore:"senderId"`
	SenderName     string      `json:"sender_name,omitempty" firestore:"senderName,omitempty"`
	ReceiverID     string      `json:"receiver_id" firestore:"receiverId"`
	OriginalPrice  int64       `json:"original_price" firestore:"originalPrice"`
	OfferPrice     int64       `json:"offer_price" firestore:"offerPrice"`
	Message        string      `json:"message,omitempty" firestore:"message,omitempty"`
	Status         OfferStatus `json:"status" firestore:"status"`

	// CounterOfferID points at the offer this one counters.
	CounterOfferID string `json:"counter_offer_id,omitempty" firestore:"counterOfferId,omitempty"`
	// CounteredByID points at the offer that superseded this one.
	CounteredByID string `json:"countered_by_id,omitempty" firestore:"counteredById,omitempty"`

	// Fulfilled records which acceptance hooks have completed.
	Fulfilled map[string]bool `json:"-" firestore:"fulfilled,omitempty"`

	CreatedAt   time.Time  `json:"created_at" firestore:"createdAt"`
	RespondedAt *time.Time `json:"responded_at,omitempty" firestore:"respondedAt,omitempty"`
}

func (o *Offer) IsCounter() bool {
	return o.CounterOfferID != ""
}

func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	c := *o
	if o.RespondedAt != nil {
		t := *o.RespondedAt
		c.RespondedAt = &t
	}
	if o.Fulfilled != nil {
		c.Fulfilled = make(map[string]bool, len(o.Fulfilled))
		for k, v := range o.Fulfilled {
			c.Fulfilled[k] = v
		}
	}
	return &c
}
