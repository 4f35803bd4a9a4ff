// Package domain contains core concepts of the messaging system.
// This file defines the User entity. No runtime, network, or UI logic
// should be added here.
package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
