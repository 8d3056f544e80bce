package delivery

import (
	"net/http"

	providerdomain "fintrack-backend/internal/provider/domain"
	providerdto "fintrack-backend/internal/provider/dto"
	"fintrack-backend/internal/provider/usecase"

	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	providerUsecase usecase.ProviderUsecase
}

func NewProviderHandler(providerUsecase usecase.ProviderUsecase) *ProviderHandler {
	return &ProviderHandler{
		providerUsecase: providerUsecase,
	}
}

// GetAuthURL returns the vendor consent URL for the requested provider type
func (h *ProviderHandler) GetAuthURL(c *gin.Context) {
	userID := c.GetString("userID")
	providerType := providerdomain.ProviderType(c.Param("type"))

	authURL, err := h.providerUsecase.GetAuthURL(userID, providerType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, providerdto.AuthURLResponse{AuthURL: authURL})
}

// HandleCallback completes the OAuth flow. The user identity comes from the
// signed state, not the session, because the vendor redirects here directly.
func (h *ProviderHandler) HandleCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	provider, err := h.providerUsecase.HandleCallback(c.Request.Context(), code, state)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, provider)
}

// ConnectIMAP connects a password-based mailbox
func (h *ProviderHandler) ConnectIMAP(c *gin.Context) {
	userID := c.GetString("userID")

	var req providerdto.ConnectIMAPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.providerUsecase.ConnectIMAP(c.Request.Context(), userID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, provider)
}

// ListProviders returns the user's connected mailboxes
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	userID := c.GetString("userID")

	providers, err := h.providerUsecase.List(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, providerdto.ProvidersResponse{Providers: providers})
}

// Disconnect deletes a provider connection and its jobs
func (h *ProviderHandler) Disconnect(c *gin.Context) {
	userID := c.GetString("userID")
	providerID := c.Param("id")

	if err := h.providerUsecase.Disconnect(c.Request.Context(), userID, providerID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "provider disconnected"})
}
