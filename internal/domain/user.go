package domain

import "time"

// User is the profile view of a rider as provided by the identity service.
type User struct {
	ID        string    `json:"id"`
	FullName  string    `json:"fullName"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}
