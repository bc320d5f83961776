package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/shop"
)

type ShopHandler struct {
	log         *logger.Logger
	shopService *shop.Service
	responder   *Responder
}

func NewShopHandler(log *logger.Logger, shopService *shop.Service, responder *Responder) *ShopHandler {
	return &ShopHandler{
		log:         log.With("Handler", "ShopHandler"),
		shopService: shopService,
		responder:   responder,
	}
}

func (sh *ShopHandler) Products(c *gin.Context) {
	sh.responder.OK(c, gin.H{"products": sh.shopService.Products()})
}

type purchaseRequest struct {
	ProductKeys   []string `json:"product_keys"`
	StripeTokenID string   `json:"stripe_token_id,omitempty"`
	UseSavedCard  bool     `json:"use_saved_card,omitempty"`
}

// Purchase charges each requested product in order and stops at the first
// failure; completed purchases stay paid.
func (sh *ShopHandler) Purchase(c *gin.Context) {
	userID, ok := sh.responder.User(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sh.responder.BadRequest(c, err)
		return
	}
	if len(req.ProductKeys) == 0 {
		sh.responder.Error(c, fmt.Errorf("%w: no products requested", gamestate.ErrValidation))
		return
	}
	results := make([]gin.H, 0, len(req.ProductKeys))
	for _, key := range req.ProductKeys {
		result, err := sh.shopService.Purchase(c.Request.Context(), userID, key, req.StripeTokenID, req.UseSavedCard)
		if err != nil {
			sh.responder.Error(c, err)
			return
		}
		entry := gin.H{"product_key": key, "invoice_id": result.InvoiceID}
		if result.GiftToken != "" {
			entry["gift_token"] = result.GiftToken
		}
		results = append(results, entry)
		// The first token charge creates the customer; later products in
		// the same request bill the saved card.
		if req.StripeTokenID != "" {
			req.StripeTokenID = ""
			req.UseSavedCard = true
		}
	}
	sh.responder.OKWithChips(c, userID, gin.H{"purchases": results})
}

type redeemGiftRequest struct {
	Token string `json:"token"`
}

func (sh *ShopHandler) RedeemGift(c *gin.Context) {
	userID, ok := sh.responder.User(c)
	if !ok {
		return
	}
	var req redeemGiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sh.responder.BadRequest(c, err)
		return
	}
	if err := sh.shopService.RedeemGift(c.Request.Context(), req.Token, userID); err != nil {
		sh.responder.Error(c, err)
		return
	}
	sh.responder.OKWithChips(c, userID, nil)
}
