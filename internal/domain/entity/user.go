package entity

type User struct {
	ID        string   `json:"id" firestore:"id"`
	Username  string   `json:"username" firestore:"username"`
	FullName  string   `json:"full_name,omitempty" firestore:"fullName,omitempty"`
	PhotoURL  string   `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
	FCMTokens []string `json:"-" firestore:"fcmTokens,omitempty"`
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return "Someone"
}
