package sessions

import "time"

// Session is the durable record of one outstanding refresh credential.
// One record exists per active device/session; a user may own many at once.
// The token string is the unique key.
type Session struct {
	RefreshToken string    `bson:"refreshToken" json:"refreshToken"`
	UserID       string    `bson:"userId" json:"userId"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	ExpiresAt    time.Time `bson:"expiresAt" json:"expiresAt"`
}
