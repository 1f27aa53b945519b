package types

// CreateUserRequest is the body of POST /user. ClerkID is the field name the
// mobile client has always sent and is accepted as an alias.
type CreateUserRequest struct {
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	ExternalIdentityID string  `json:"externalIdentityId"`
	ClerkID            string  `json:"clerkId,omitempty"`
	ProfileImageURL    *string `json:"profileImageUrl,omitempty"`
}

// IdentityID returns the external identity id, preferring the canonical field.
func (r CreateUserRequest) IdentityID() string {
	if r.ExternalIdentityID != "" {
		return r.ExternalIdentityID
	}
	return r.ClerkID
}
