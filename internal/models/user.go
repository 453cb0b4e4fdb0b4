package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the requester profile as stored by the accounts service. Read only here.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName  string             `bson:"fullname" json:"fullname"`
	Email     string             `bson:"email" json:"email"`
	Number    string             `bson:"number" json:"number"`
	City      string             `bson:"city" json:"city"`
	Country   string             `bson:"country" json:"country"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// SplitName returns given name and surname; the gateway wants them separately.
func (u *User) SplitName() (string, string) {
	name := strings.TrimSpace(u.FullName)
	if i := strings.LastIndex(name, " "); i > 0 {
		return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
	}
	return name, name
}
