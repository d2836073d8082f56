package models

import "time"

type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	FirstLoginGift    bool      `json:"firstLoginGift"`
	WelcomeGiftExpiry time.Time `json:"welcomeGiftExpiry"`
}

// WelcomeDiscountEligible reports whether the one-time welcome gift can still be used at now.
func (u *User) WelcomeDiscountEligible(now time.Time) bool {
	return u.FirstLoginGift && !u.WelcomeGiftExpiry.IsZero() && now.Before(u.WelcomeGiftExpiry)
}

func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
