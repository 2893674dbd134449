package api

import "github.com/go-playground/validator/v10"

var validate = validator.New()

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// createConversationRequest covers both shapes: a 1:1 conversation keyed by
// the other user's id, or a named group with at least two other members.
type createConversationRequest struct {
	UserID  string   `json:"userId" validate:"required_if=IsGroup false"`
	IsGroup bool     `json:"isGroup"`
	Name    string   `json:"name" validate:"required_if=IsGroup true"`
	Members []string `json:"members" validate:"required_if=IsGroup true,omitempty,min=2,dive,required"`
}

type updateProfileRequest struct {
	Name  string `json:"name" validate:"required"`
	Image string `json:"image" validate:"omitempty,url"`
}

type createMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Message        string `json:"message"`
	Image          string `json:"image" validate:"omitempty,url"`
}
