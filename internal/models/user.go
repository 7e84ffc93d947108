package models

import "time"

// RegisteredUser is the identity captured before the diagnostic starts
type RegisteredUser struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	InterestedArea     LawAreaID `json:"interested_area"`
	DataPolicyAccepted bool      `json:"data_policy_accepted"`
	CreatedAt          time.Time `json:"created_at"`
}

// RegisterRequest carries the registration form
type RegisterRequest struct {
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	InterestedArea     LawAreaID `json:"interested_area"`
	DataPolicyAccepted bool      `json:"data_policy_accepted"`
}

// UserFilters defines filters for listing registered users
type UserFilters struct {
	InterestedArea LawAreaID
	Limit          int
	Offset         int
}
