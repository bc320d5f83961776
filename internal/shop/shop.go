// Package shop sells catalog products: vouchers fulfilled immediately and
// gift passes that mint a redeemable token.
package shop

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/types"
)

const (
	InvoiceOpen   = "open"
	InvoicePaid   = "paid"
	InvoiceFailed = "failed"

	TxSucceeded = "succeeded"
	TxFailed    = "failed"
)

type Service struct {
	env      *gamestate.Env
	dispatch *events.Dispatcher
	email    *email.Dispatcher
	gateway  Gateway
	log      *logger.Logger
}

func New(env *gamestate.Env, dispatch *events.Dispatcher, emailDispatch *email.Dispatcher, gateway Gateway, log *logger.Logger) *Service {
	return &Service{
		env:      env,
		dispatch: dispatch,
		email:    emailDispatch,
		gateway:  gateway,
		log:      log.With("component", "shop"),
	}
}

// Products lists the purchasable catalog, stable order.
func (s *Service) Products() []*content.ProductDef {
	out := make([]*content.ProductDef, 0, len(s.env.Catalog.Products))
	for _, p := range s.env.Catalog.Products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

type PurchaseResult struct {
	InvoiceID uuid.UUID
	GiftToken string
}

// Purchase charges the user and fulfills the product atomically with the
// invoice bookkeeping. Card failures record a failed transaction and come
// back as validation errors; an expired saved card is additionally removed
// and the user told in-game.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, productKey, cardToken string, useSavedCard bool) (*PurchaseResult, error) {
	var result *PurchaseResult
	var cardFailure error
	err := s.env.InScope(ctx, func(sc *gamestate.Scope) error {
		u, err := gamestate.LoadUser(sc, userID)
		if err != nil {
			return err
		}
		product := sc.Catalog.Products[productKey]
		if product == nil {
			return fmt.Errorf("%w: unknown product %q", gamestate.ErrValidation, productKey)
		}

		invoice := &types.ShopInvoice{
			ID:         uuid.New(),
			UserID:     userID,
			ProductKey: productKey,
			Currency:   product.Currency,
			TotalCents: product.PriceCents,
			State:      InvoiceOpen,
			CreatedAt:  sc.Clock.Now(),
		}
		if _, err := sc.Repos.Shop.CreateInvoice(sc.Ctx, sc.Tx, invoice); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		req := ChargeRequest{
			Email:       u.Row.Email,
			AmountCents: product.PriceCents,
			Currency:    product.Currency,
			Description: fmt.Sprintf("Farpoint: %s", product.Name),
		}
		if useSavedCard {
			if u.Shop == nil || u.Shop.StripeCustomerID == "" {
				return fmt.Errorf("%w: no saved card", gamestate.ErrValidation)
			}
			req.CustomerID = u.Shop.StripeCustomerID
		} else {
			if cardToken == "" {
				return fmt.Errorf("%w: card token required", gamestate.ErrValidation)
			}
			req.CardToken = cardToken
		}

		charge, chargeErr := s.gateway.Charge(sc.Ctx, req)
		if chargeErr != nil {
			// The failure bookkeeping must commit, so card errors do not
			// abort the scope; they surface after it closes.
			if err := s.recordFailure(sc, u, invoice, useSavedCard, chargeErr); err != nil {
				return err
			}
			cardFailure = chargeErr
			return nil
		}

		tx := &types.ShopTransaction{
			ID:          uuid.New(),
			InvoiceID:   invoice.ID,
			ChargeID:    charge.ChargeID,
			AmountCents: product.PriceCents,
			State:       TxSucceeded,
			CreatedAt:   sc.Clock.Now(),
		}
		if _, err := sc.Repos.Shop.CreateTransaction(sc.Ctx, sc.Tx, tx); err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}
		if err := sc.Repos.Shop.UpdateInvoiceFields(sc.Ctx, sc.Tx, invoice.ID,
			map[string]interface{}{"state": InvoicePaid}); err != nil {
			return fmt.Errorf("mark invoice paid: %w", err)
		}
		if err := s.saveCard(sc, u, charge); err != nil {
			return err
		}

		result = &PurchaseResult{InvoiceID: invoice.ID}
		if product.GiftType != "" {
			gift, err := s.createGift(sc, &userID, product.GiftType, "")
			if err != nil {
				return err
			}
			result.GiftToken = gift.Token
		} else {
			if err := s.dispatch.InvoicePaid(u, productKey); err != nil {
				return err
			}
		}

		return s.email.SendTemplate(sc, u, email.TplReceipt, map[string]interface{}{
			"ProductName":     product.Name,
			"AmountFormatted": formatCents(product.PriceCents, product.Currency),
		})
	})
	if err != nil {
		return nil, err
	}
	if cardFailure != nil {
		return nil, fmt.Errorf("%w: %v", gamestate.ErrValidation, cardFailure)
	}
	return result, nil
}

// recordFailure books the failed transaction and invoice and handles the
// expired-saved-card special case. Non-card errors propagate and roll the
// scope back.
func (s *Service) recordFailure(sc *gamestate.Scope, u *gamestate.User, invoice *types.ShopInvoice, usedSavedCard bool, chargeErr error) error {
	isCard := errors.Is(chargeErr, ErrCardDeclined) || errors.Is(chargeErr, ErrCardExpired)
	if !isCard {
		// Gateway or network trouble: roll back, the client may retry.
		return fmt.Errorf("charge failed: %w", chargeErr)
	}

	tx := &types.ShopTransaction{
		ID:           uuid.New(),
		InvoiceID:    invoice.ID,
		AmountCents:  invoice.TotalCents,
		State:        TxFailed,
		ErrorMessage: chargeErr.Error(),
		CreatedAt:    sc.Clock.Now(),
	}
	if errors.Is(chargeErr, ErrCardExpired) {
		tx.ErrorCode = "expired_card"
	} else {
		tx.ErrorCode = "card_declined"
	}
	if _, err := sc.Repos.Shop.CreateTransaction(sc.Ctx, sc.Tx, tx); err != nil {
		return fmt.Errorf("record failed transaction: %w", err)
	}
	if err := sc.Repos.Shop.UpdateInvoiceFields(sc.Ctx, sc.Tx, invoice.ID,
		map[string]interface{}{"state": InvoiceFailed}); err != nil {
		return fmt.Errorf("mark invoice failed: %w", err)
	}

	if errors.Is(chargeErr, ErrCardExpired) && usedSavedCard {
		if err := s.removeSavedCard(sc, u); err != nil {
			return err
		}
		if _, err := u.AddMessage("MSG_CARD_EXPIRED"); err != nil {
			return err
		}
	}
	s.log.Warn("Card charge failed",
		"user_id", u.Row.ID, "invoice_id", invoice.ID, "code", tx.ErrorCode)
	return nil
}

func (s *Service) saveCard(sc *gamestate.Scope, u *gamestate.User, charge *ChargeResult) error {
	if charge.CustomerID == "" || charge.Card.Last4 == "" {
		return nil
	}
	row := u.Shop
	if row == nil {
		row = &types.UserShop{UserID: u.Row.ID}
		u.Shop = row
	}
	row.StripeCustomerID = charge.CustomerID
	row.SavedCardLast4 = charge.Card.Last4
	row.SavedCardExpMon = charge.Card.ExpMonth
	row.SavedCardExpYear = charge.Card.ExpYear
	row.UpdatedAt = sc.Clock.Now()
	return sc.Repos.Shop.UpsertUserShop(sc.Ctx, sc.Tx, row)
}

func (s *Service) removeSavedCard(sc *gamestate.Scope, u *gamestate.User) error {
	if u.Shop == nil {
		return nil
	}
	u.Shop.SavedCardLast4 = ""
	u.Shop.SavedCardExpMon = 0
	u.Shop.SavedCardExpYear = 0
	u.Shop.UpdatedAt = sc.Clock.Now()
	return sc.Repos.Shop.UpsertUserShop(sc.Ctx, sc.Tx, u.Shop)
}

// CreateGift mints an admin or purchase gift with a fresh redeem token.
func (s *Service) CreateGift(ctx context.Context, creatorID *uuid.UUID, giftType, annotation string) (*types.Gift, error) {
	if s.env.Catalog.GiftTypes[giftType] == nil {
		return nil, fmt.Errorf("%w: unknown gift type %q", gamestate.ErrValidation, giftType)
	}
	var gift *types.Gift
	err := s.env.InScope(ctx, func(sc *gamestate.Scope) error {
		var err error
		gift, err = s.createGift(sc, creatorID, giftType, annotation)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gift, nil
}

func (s *Service) createGift(sc *gamestate.Scope, creatorID *uuid.UUID, giftType, annotation string) (*types.Gift, error) {
	gift := &types.Gift{
		ID:         uuid.New(),
		CreatorID:  creatorID,
		GiftType:   giftType,
		Token:      newToken(),
		Annotation: annotation,
		CreatedAt:  sc.Clock.Now(),
	}
	if _, err := sc.Repos.Social.CreateGift(sc.Ctx, sc.Tx, gift); err != nil {
		return nil, fmt.Errorf("create gift: %w", err)
	}
	return gift, nil
}

// RedeemGift delivers the gift's voucher to the redeemer, exactly once.
// The conditional UPDATE on redeemed_at is the concurrency guard.
func (s *Service) RedeemGift(ctx context.Context, token string, redeemerID uuid.UUID) error {
	return s.env.InScope(ctx, func(sc *gamestate.Scope) error {
		gift, err := sc.Repos.Social.GetGiftByToken(sc.Ctx, sc.Tx, token)
		if err != nil {
			return err
		}
		if gift == nil {
			return fmt.Errorf("%w: gift", gamestate.ErrNotFound)
		}
		if gift.RedeemedAt != nil {
			return fmt.Errorf("%w: gift already redeemed", gamestate.ErrValidation)
		}
		won, err := sc.Repos.Social.RedeemGift(sc.Ctx, sc.Tx, gift.ID, redeemerID, sc.Clock.Now())
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("%w: gift already redeemed", gamestate.ErrValidation)
		}
		u, err := gamestate.LoadUser(sc, redeemerID)
		if err != nil {
			return err
		}
		return s.dispatch.GiftRedeemed(u, gift.GiftType)
	})
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no state to serve.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func formatCents(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}
