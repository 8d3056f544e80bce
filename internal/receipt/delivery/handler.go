package delivery

import (
	"net/http"
	"strconv"

	receiptdto "fintrack-backend/internal/receipt/dto"
	"fintrack-backend/internal/receipt/usecase"

	"github.com/gin-gonic/gin"
)

type ReceiptHandler struct {
	ingestService usecase.IngestService
}

func NewReceiptHandler(ingestService usecase.IngestService) *ReceiptHandler {
	return &ReceiptHandler{
		ingestService: ingestService,
	}
}

// ListReceipts returns the user's receipts, newest purchase first
func (h *ReceiptHandler) ListReceipts(c *gin.Context) {
	userID := c.GetString("userID")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	receipts, total, err := h.ingestService.ListReceipts(userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, receiptdto.ReceiptsResponse{
		Receipts: receipts,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}
