package entity

import "time"

const (
	ProductStatusActive      = "active"
	ProductStatusUnavailable = "unavailable"
)

type Product struct {
	ID        string    `json:"id" firestore:"id"`
	SellerID  string    `json:"seller_id" firestore:"sellerId"`
	Title     string    `json:"title" firestore:"title"`
	Price     int64     `json:"price" firestore:"price"`
	ImageURL  string    `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	Status    string    `json:"status" firestore:"status"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

func (p *Product) Available() bool {
	return p.Status == "" || p.Status == ProductStatusActive
}
