package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beacon-im/beacon/internal/auth"
)

func (h *handlers) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}

	token, user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// listUsers returns everyone except the caller, backing the user picker for
// starting conversations.
func (h *handlers) listUsers(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)

	users, err := h.store.ListUsersExcept(c.Request.Context(), identity.UserID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// updateProfile changes the caller's display name and avatar.
func (h *handlers) updateProfile(c *gin.Context) {
	identity, _ := auth.CurrentIdentity(c)
	ctx := c.Request.Context()

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}

	if err := h.store.UpdateProfile(ctx, identity.UserID, req.Name, req.Image); err != nil {
		h.abortError(c, err)
		return
	}
	user, err := h.store.GetUserByID(ctx, identity.UserID)
	if err != nil {
		h.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
