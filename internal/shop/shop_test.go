package shop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamelogic"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/types"
)

// fakeGateway records charges and answers with a canned result or error.
type fakeGateway struct {
	charges []ChargeRequest
	err     error
	result  ChargeResult
}

func (g *fakeGateway) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.charges = append(g.charges, req)
	if g.err != nil {
		return nil, g.err
	}
	out := g.result
	if out.ChargeID == "" {
		out.ChargeID = "ch_" + uuid.NewString()[:8]
	}
	return &out, nil
}

type shopRig struct {
	env      *gamestate.Env
	service  *Service
	registry *events.Registry
	gateway  *fakeGateway
	echo     *email.EchoTransport
}

func newShopRig(t *testing.T) *shopRig {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	catalog, err := content.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	log := logger.NewNop()
	clk, _ := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	env := &gamestate.Env{DB: gdb, Repos: repos.New(gdb, log), Clock: clk, Catalog: catalog, Log: log}

	registry := events.NewRegistry()
	dispatch := events.NewDispatcher(registry, log)
	gamelogic.Register(registry, dispatch)
	if err := registry.Validate(catalog); err != nil {
		t.Fatalf("validate registry: %v", err)
	}

	templates, err := email.NewTemplates()
	if err != nil {
		t.Fatalf("compile templates: %v", err)
	}
	echo := &email.EchoTransport{}
	emailDispatch := email.NewDispatcher(email.ModeDirect, echo, templates, env.Repos.EmailQueue, locks.NewMemoryManager(), log)

	gateway := &fakeGateway{result: ChargeResult{
		CustomerID: "cus_test",
		Card:       CardSummary{Last4: "4242", ExpMonth: 12, ExpYear: 2030},
	}}
	service := New(env, dispatch, emailDispatch, gateway, log)
	return &shopRig{env: env, service: service, registry: registry, gateway: gateway, echo: echo}
}

func (rig *shopRig) createUser(t *testing.T) uuid.UUID {
	t.Helper()
	now := rig.env.Clock.Now()
	user := &types.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@example.com",
		Password:  "hash",
		FirstName: "Ada",
		Epoch:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := rig.env.Repos.Users.Create(context.Background(), nil, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func (rig *shopRig) invoices(t *testing.T, userID uuid.UUID) []*types.ShopInvoice {
	t.Helper()
	var out []*types.ShopInvoice
	if err := rig.env.DB.Where("user_id = ?", userID).Find(&out).Error; err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	return out
}

func (rig *shopRig) vouchers(t *testing.T, userID uuid.UUID) []*types.Voucher {
	t.Helper()
	rows, err := rig.env.Repos.Vouchers.ListByUser(context.Background(), nil, userID)
	if err != nil {
		t.Fatalf("list vouchers: %v", err)
	}
	return rows
}

func (rig *shopRig) messages(t *testing.T, userID uuid.UUID) []string {
	t.Helper()
	rows, err := rig.env.Repos.Messages.ListByUser(context.Background(), nil, userID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	out := make([]string, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.MsgType)
	}
	return out
}

func TestProductsStableOrder(t *testing.T) {
	rig := newShopRig(t)
	products := rig.service.Products()
	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(products))
	}
	for i := 1; i < len(products); i++ {
		if products[i-1].Key >= products[i].Key {
			t.Fatal("products must come back in stable key order")
		}
	}
}

func TestPurchaseVoucherProduct(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)

	result, err := rig.service.Purchase(context.Background(), userID, "PRD_S1_PASS", "tok_visa", false)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if result.InvoiceID == uuid.Nil || result.GiftToken != "" {
		t.Fatalf("voucher purchase should yield an invoice and no gift token: %+v", result)
	}
	if len(rig.gateway.charges) != 1 || rig.gateway.charges[0].AmountCents != 999 {
		t.Fatalf("expected one 999-cent charge, got %+v", rig.gateway.charges)
	}

	invoices := rig.invoices(t, userID)
	if len(invoices) != 1 || invoices[0].State != InvoicePaid {
		t.Fatalf("invoice should be paid: %+v", invoices)
	}
	vouchers := rig.vouchers(t, userID)
	if len(vouchers) != 1 || vouchers[0].VoucherKey != "VCH_S1" {
		t.Fatalf("season pass should be fulfilled, got %+v", vouchers)
	}

	// The charge saved the card for next time.
	shopRow, err := rig.env.Repos.Shop.GetUserShop(context.Background(), nil, userID)
	if err != nil {
		t.Fatalf("load user shop: %v", err)
	}
	if shopRow == nil || shopRow.SavedCardLast4 != "4242" || shopRow.StripeCustomerID != "cus_test" {
		t.Fatalf("saved card missing: %+v", shopRow)
	}

	// And a receipt went out.
	if len(rig.echo.Sent) != 1 || !strings.Contains(rig.echo.Sent[0].BodyText, "Season 1 Pass") {
		t.Fatalf("expected a receipt naming the product, got %+v", rig.echo.Sent)
	}
}

func TestPurchaseUnlocksCapabilities(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)
	err := rig.env.InScope(context.Background(), func(s *gamestate.Scope) error {
		u, err := gamestate.LoadUser(s, userID)
		if err != nil {
			return err
		}
		if _, err := u.AddRover("RVR_S1", 6.2400, -109.4100); err != nil {
			return err
		}
		return u.RederiveCapabilities()
	})
	if err != nil {
		t.Fatalf("seed rover: %v", err)
	}

	var unlocked []string
	rig.registry.RegisterCapability(&events.CapabilityHandler{
		Key: "CAP_S1_CAMERA_PANORAMA",
		Unlimited: func(u *gamestate.User, c *gamestate.CapabilityState) error {
			if !c.Row.Unlimited {
				t.Fatal("the hook must only see an unlimited capability")
			}
			unlocked = append(unlocked, c.Row.CapabilityKey)
			return nil
		},
	})

	if _, err := rig.service.Purchase(context.Background(), userID, "PRD_S1_PASS", "tok_visa", false); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if len(unlocked) != 1 || unlocked[0] != "CAP_S1_CAMERA_PANORAMA" {
		t.Fatalf("the season pass should unlock the panorama capability, got %v", unlocked)
	}
}

func TestPurchaseCardDeclined(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)
	rig.gateway.err = ErrCardDeclined

	_, err := rig.service.Purchase(context.Background(), userID, "PRD_S1_PASS", "tok_bad", false)
	if !errors.Is(err, gamestate.ErrValidation) {
		t.Fatalf("card decline should surface as validation, got %v", err)
	}

	// The failure bookkeeping committed even though the purchase failed.
	invoices := rig.invoices(t, userID)
	if len(invoices) != 1 || invoices[0].State != InvoiceFailed {
		t.Fatalf("invoice should be recorded failed: %+v", invoices)
	}
	var txs []*types.ShopTransaction
	if err := rig.env.DB.Where("invoice_id = ?", invoices[0].ID).Find(&txs).Error; err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].State != TxFailed || txs[0].ErrorCode != "card_declined" {
		t.Fatalf("failed transaction should be booked: %+v", txs)
	}
	if len(rig.vouchers(t, userID)) != 0 {
		t.Fatal("a declined card must not fulfill the product")
	}
}

func TestExpiredSavedCardIsRemoved(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)
	seed := &types.UserShop{
		UserID:           userID,
		StripeCustomerID: "cus_old",
		SavedCardLast4:   "1111",
		SavedCardExpMon:  1,
		SavedCardExpYear: 2025,
		UpdatedAt:        rig.env.Clock.Now(),
	}
	if err := rig.env.Repos.Shop.UpsertUserShop(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed saved card: %v", err)
	}
	rig.gateway.err = ErrCardExpired

	_, err := rig.service.Purchase(context.Background(), userID, "PRD_S1_PASS", "", true)
	if !errors.Is(err, gamestate.ErrValidation) {
		t.Fatalf("expired card should surface as validation, got %v", err)
	}

	shopRow, err := rig.env.Repos.Shop.GetUserShop(context.Background(), nil, userID)
	if err != nil {
		t.Fatalf("load user shop: %v", err)
	}
	if shopRow.SavedCardLast4 != "" {
		t.Fatalf("expired card should be removed, got %+v", shopRow)
	}
	found := false
	for _, msgType := range rig.messages(t, userID) {
		if msgType == "MSG_CARD_EXPIRED" {
			found = true
		}
	}
	if !found {
		t.Fatal("the user should be told in-game about the expired card")
	}
}

func TestPurchaseSavedCardWithoutOne(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)
	_, err := rig.service.Purchase(context.Background(), userID, "PRD_S1_PASS", "", true)
	if !errors.Is(err, gamestate.ErrValidation) {
		t.Fatalf("saved-card purchase without a card should fail validation, got %v", err)
	}
}

func TestPurchaseUnknownProduct(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)
	_, err := rig.service.Purchase(context.Background(), userID, "PRD_NOPE", "tok", false)
	if !errors.Is(err, gamestate.ErrValidation) {
		t.Fatalf("unknown product should fail validation, got %v", err)
	}
}

func TestPurchaseGiftProduct(t *testing.T) {
	rig := newShopRig(t)
	userID := rig.createUser(t)

	result, err := rig.service.Purchase(context.Background(), userID, "PRD_GIFT_S1_PASS", "tok_visa", false)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if result.GiftToken == "" {
		t.Fatal("gift purchase should mint a redeem token")
	}
	// The buyer bought a gift, not a pass for themselves.
	if len(rig.vouchers(t, userID)) != 0 {
		t.Fatal("gift purchase must not grant the buyer a voucher")
	}
}

func TestRedeemGiftExactlyOnce(t *testing.T) {
	rig := newShopRig(t)
	buyerID := rig.createUser(t)
	friendID := rig.createUser(t)

	gift, err := rig.service.CreateGift(context.Background(), &buyerID, "GFT_S1_PASS", "birthday")
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	if err := rig.service.RedeemGift(context.Background(), gift.Token, friendID); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	vouchers := rig.vouchers(t, friendID)
	if len(vouchers) != 1 || vouchers[0].VoucherKey != "VCH_S1" {
		t.Fatalf("redemption should deliver the voucher, got %+v", vouchers)
	}
	msgs := rig.messages(t, friendID)
	var sawGiftNote bool
	for _, m := range msgs {
		if m == "MSG_GIFT_REDEEMED" {
			sawGiftNote = true
		}
	}
	if !sawGiftNote {
		t.Fatalf("redemption should send the gift message, got %v", msgs)
	}

	// Second redemption attempt loses.
	err = rig.service.RedeemGift(context.Background(), gift.Token, buyerID)
	if !errors.Is(err, gamestate.ErrValidation) {
		t.Fatalf("double redemption should fail validation, got %v", err)
	}
	if len(rig.vouchers(t, buyerID)) != 0 {
		t.Fatal("the losing redeemer must get nothing")
	}

	// Unknown tokens are a missing entity, not a validation hint.
	err = rig.service.RedeemGift(context.Background(), "no-such-token", friendID)
	if !errors.Is(err, gamestate.ErrNotFound) {
		t.Fatalf("unknown token should be not-found, got %v", err)
	}
}
