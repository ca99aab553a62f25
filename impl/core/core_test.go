package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"vpnbot/entity"
	"vpnbot/impl/auth"
	"vpnbot/impl/ledger"
	"vpnbot/internal/config"
	"vpnbot/internal/database"
)

// fakeDB is an in-memory stand-in for the MySQL store. It implements the
// core Database interface plus the ledger store, with the same conditional
// update semantics: redeem, trial and payment completion mutate only when
// the row is still in the expected state.
type fakeDB struct {
	mu        sync.Mutex
	users     map[int64]*entity.User
	invites   map[string]*entity.InviteCode
	payments  map[string]*entity.Payment
	referrals map[int64]*entity.Referral
	subs      []*entity.Subscription
	tickets   map[int64]*entity.Ticket
	messages  []*entity.TicketMessage
	nextId    int64

	// single-shot fault and race injection
	userLookupErr  error
	createUserRace func()
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:     make(map[int64]*entity.User),
		invites:   make(map[string]*entity.InviteCode),
		payments:  make(map[string]*entity.Payment),
		referrals: make(map[int64]*entity.Referral),
		tickets:   make(map[int64]*entity.Ticket),
	}
}

func (f *fakeDB) id() int64 {
	f.nextId++
	return f.nextId
}

func (f *fakeDB) Ping(_ context.Context) error { return nil }

func (f *fakeDB) CreateUser(_ context.Context, user *entity.User) error {
	f.mu.Lock()
	hook := f.createUserRace
	f.createUserRace = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.TelegramId]; ok {
		return entity.ErrDuplicate
	}
	cp := *user
	f.users[user.TelegramId] = &cp
	return nil
}

func (f *fakeDB) UserByTelegramId(_ context.Context, telegramId int64) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userLookupErr != nil {
		err := f.userLookupErr
		f.userLookupErr = nil
		return nil, err
	}
	user, ok := f.users[telegramId]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeDB) UserByToken(_ context.Context, token string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ApiToken == token {
			cp := *user
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeDB) UserByReferralCode(_ context.Context, code string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ReferralCode == code {
			cp := *user
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeDB) AllUsers(_ context.Context) ([]*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.User, 0, len(f.users))
	for _, user := range f.users {
		cp := *user
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeDB) UpdateUserProfile(_ context.Context, telegramId int64, username, firstName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[telegramId]; ok {
		user.TelegramUsername = username
		user.FirstName = firstName
	}
	return nil
}

func (f *fakeDB) SetUserRole(_ context.Context, telegramId int64, role entity.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[telegramId]; ok {
		user.Role = role
		return nil
	}
	return entity.ErrNotFound
}

func (f *fakeDB) SetUserBlocked(_ context.Context, telegramId int64, blocked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[telegramId]; ok {
		user.IsBlocked = blocked
		return nil
	}
	return entity.ErrNotFound
}

func (f *fakeDB) SetUserAccess(_ context.Context, telegramId int64, panelUUID string, dataLimitBytes int64, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[telegramId]; ok {
		user.PanelUUID = panelUUID
		user.DataLimitBytes = dataLimitBytes
		user.ExpiresAt = expiresAt
		return nil
	}
	return entity.ErrNotFound
}

func (f *fakeDB) ActivateTrial(_ context.Context, telegramId int64, expiry time.Time, dataLimitBytes int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[telegramId]
	if !ok || user.TrialActivated {
		return false, nil
	}
	user.TrialActivated = true
	user.TrialExpiry = &expiry
	user.DataLimitBytes = dataLimitBytes
	return true, nil
}

func (f *fakeDB) Stats(_ context.Context) (*database.UsersStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &database.UsersStats{Total: len(f.users)}, nil
}

func (f *fakeDB) CreateInvite(_ context.Context, invite *entity.InviteCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.invites[invite.Code]; ok {
		return entity.ErrDuplicate
	}
	cp := *invite
	f.invites[invite.Code] = &cp
	return nil
}

func (f *fakeDB) InviteByCode(_ context.Context, code string) (*entity.InviteCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[code]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *invite
	return &cp, nil
}

func (f *fakeDB) InvitesByCreator(_ context.Context, createdBy int64, _ int) ([]*entity.InviteCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.InviteCode
	for _, invite := range f.invites {
		if invite.CreatedBy == createdBy {
			cp := *invite
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDB) RedeemInvite(_ context.Context, code string, now time.Time) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[code]
	if !ok || !invite.IsActive || invite.UsedCount >= invite.MaxUses || invite.IsExpired(now) {
		return 0, false, nil
	}
	invite.UsedCount++
	if invite.UsedCount >= invite.MaxUses {
		invite.IsActive = false
	}
	return invite.UsedCount, true, nil
}

func (f *fakeDB) RefundInvite(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[code]
	if !ok || invite.UsedCount == 0 {
		return false, nil
	}
	if !invite.IsActive && invite.UsedCount >= invite.MaxUses {
		invite.IsActive = true
	}
	invite.UsedCount--
	return true, nil
}

func (f *fakeDB) RevokeInvite(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invites[code]
	if !ok || !invite.IsActive {
		return false, nil
	}
	invite.IsActive = false
	return true, nil
}

func (f *fakeDB) CreatePayment(_ context.Context, payment *entity.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.payments[payment.ProviderPaymentId]; ok {
		return entity.ErrDuplicate
	}
	cp := *payment
	cp.Id = f.id()
	f.payments[payment.ProviderPaymentId] = &cp
	payment.Id = cp.Id
	return nil
}

func (f *fakeDB) PaymentByProviderId(_ context.Context, providerPaymentId string) (*entity.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[providerPaymentId]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *payment
	return &cp, nil
}

func (f *fakeDB) CompletePayment(_ context.Context, providerPaymentId, chargeId string, completedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[providerPaymentId]
	if !ok || payment.Status != entity.PaymentPending {
		return false, nil
	}
	payment.Status = entity.PaymentCompleted
	payment.ChargeId = chargeId
	payment.CompletedAt = &completedAt
	return true, nil
}

func (f *fakeDB) CreateSubscription(_ context.Context, sub *entity.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	cp.Id = f.id()
	f.subs = append(f.subs, &cp)
	return nil
}

func (f *fakeDB) ActiveSubscription(_ context.Context, telegramId int64) (*entity.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := len(f.subs) - 1; i >= 0; i-- {
		if f.subs[i].TelegramId == telegramId && f.subs[i].IsActive(now) {
			cp := *f.subs[i]
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeDB) SubscriptionByPaymentId(_ context.Context, paymentId int64) (*entity.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.PaymentId == paymentId {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeDB) CreateReferral(_ context.Context, ref *entity.Referral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.referrals[ref.ReferredId]; ok {
		return entity.ErrDuplicate
	}
	cp := *ref
	cp.Id = f.id()
	f.referrals[ref.ReferredId] = &cp
	return nil
}

func (f *fakeDB) ReferralByReferred(_ context.Context, referredId int64) (*entity.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[referredId]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *ref
	return &cp, nil
}

func (f *fakeDB) ActivateReferral(_ context.Context, referredId, paymentId int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[referredId]
	if !ok || ref.Status != entity.ReferralPending {
		return false, nil
	}
	now := time.Now()
	ref.Status = entity.ReferralActive
	ref.PaymentId = paymentId
	ref.ActivatedAt = &now
	return true, nil
}

func (f *fakeDB) ReferralStats(_ context.Context, referrerId int64) (*entity.ReferralStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &entity.ReferralStats{}
	for _, ref := range f.referrals {
		if ref.ReferrerId != referrerId {
			continue
		}
		stats.Total++
		if ref.Status == entity.ReferralActive {
			stats.Active++
			stats.EarnedCents += ref.BonusCents
		}
	}
	return stats, nil
}

func (f *fakeDB) CreateTicket(_ context.Context, ticket *entity.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ticket
	cp.Id = f.id()
	f.tickets[cp.Id] = &cp
	ticket.Id = cp.Id
	return nil
}

func (f *fakeDB) OpenTicketCount(_ context.Context, telegramId int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ticket := range f.tickets {
		if ticket.TelegramId == telegramId && ticket.Status.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (f *fakeDB) TicketById(_ context.Context, id int64) (*entity.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *ticket
	return &cp, nil
}

func (f *fakeDB) TicketsByUser(_ context.Context, telegramId int64, _ int) ([]*entity.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Ticket
	for _, ticket := range f.tickets {
		if ticket.TelegramId == telegramId {
			cp := *ticket
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDB) OpenTickets(_ context.Context) ([]*entity.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Ticket
	for _, ticket := range f.tickets {
		if ticket.Status.IsOpen() {
			cp := *ticket
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDB) SetTicketStatus(_ context.Context, id int64, status entity.TicketStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok {
		return entity.ErrNotFound
	}
	ticket.Status = status
	return nil
}

func (f *fakeDB) AddTicketMessage(_ context.Context, msg *entity.TicketMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	cp.Id = f.id()
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeDB) TicketMessages(_ context.Context, ticketId int64) ([]*entity.TicketMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.TicketMessage
	for _, msg := range f.messages {
		if msg.TicketId == ticketId {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeDB) subCount(telegramId int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if sub.TelegramId == telegramId {
			n++
		}
	}
	return n
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testConf() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{AdminIds: []int64{900}},
		Invites:  config.InvitesConfig{OpenRegistration: false},
		Trial:    config.TrialConfig{Enabled: true, Days: 7, DataLimitGB: 10},
		Referral: config.ReferralConfig{Enabled: true, BonusCents: 100},
		Support:  config.SupportConfig{MaxOpenTickets: 3},
		Plans: []entity.Plan{
			{Code: "month_1", Title: "1 month", Days: 30, DataLimitGB: 100, PriceCents: 500, PriceStars: 250, Currency: "USD"},
		},
	}
}

func testCore(t *testing.T, db *fakeDB, conf *config.Config) *Core {
	t.Helper()
	log := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	lg := ledger.New(db, log, ledger.Config{})
	return New(db, lg, auth.New(db, conf), conf, log)
}

func TestRegisterUserClosedRegistration(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())

	_, _, err := c.RegisterUser(context.Background(), Profile{TelegramId: 1, FirstName: "Eve"}, "")
	if !errors.Is(err, ErrInviteRequired) {
		t.Fatalf("expected ErrInviteRequired, got %v", err)
	}
	if len(db.users) != 0 {
		t.Error("refused registration must not create a user")
	}
}

func TestRegisterUserBootstrapAdmin(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())

	user, created, err := c.RegisterUser(context.Background(), Profile{TelegramId: 900, Username: "boss"}, "")
	if err != nil {
		t.Fatalf("bootstrap admin refused: %v", err)
	}
	if !created {
		t.Error("expected a new user")
	}
	if user.Role != entity.RoleAdmin {
		t.Errorf("bootstrap admin role = %q", user.Role)
	}
}

func TestRegisterUserWithInvite(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	invite, err := c.ledger.CreateCode(ctx, 900, 2, nil)
	if err != nil {
		t.Fatalf("mint code: %v", err)
	}

	user, created, err := c.RegisterUser(ctx, Profile{TelegramId: 2, Username: "alice"}, invite.Code)
	if err != nil {
		t.Fatalf("invited registration refused: %v", err)
	}
	if !created || user.InvitedBy != 900 {
		t.Errorf("created=%v invited_by=%d", created, user.InvitedBy)
	}
	if got := db.invites[invite.Code].UsedCount; got != 1 {
		t.Errorf("used count = %d, want 1", got)
	}

	// second /start from the same user must not consume another use
	_, created, err = c.RegisterUser(ctx, Profile{TelegramId: 2, Username: "alice"}, invite.Code)
	if err != nil || created {
		t.Errorf("repeat start: created=%v err=%v", created, err)
	}
	if got := db.invites[invite.Code].UsedCount; got != 1 {
		t.Errorf("used count after repeat = %d, want 1", got)
	}
}

func TestRegisterUserDuplicateStartRefundsInvite(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	invite, err := c.ledger.CreateCode(ctx, 900, 1, nil)
	if err != nil {
		t.Fatalf("mint code: %v", err)
	}

	// a concurrent /start wins the insert between the redemption and ours
	db.createUserRace = func() {
		_ = db.CreateUser(ctx, &entity.User{
			TelegramId: 70, Role: entity.RoleUser, ReferralCode: "race70aa",
		})
	}

	user, created, err := c.RegisterUser(ctx, Profile{TelegramId: 70, Username: "bob"}, invite.Code)
	if err != nil {
		t.Fatalf("losing /start refused: %v", err)
	}
	if created || user.TelegramId != 70 {
		t.Errorf("created=%v telegram_id=%d, want the winner's row", created, user.TelegramId)
	}

	// the loser's redemption went back to the code
	inv := db.invites[invite.Code]
	if inv.UsedCount != 0 {
		t.Errorf("used count = %d, want 0 after refund", inv.UsedCount)
	}
	if !inv.IsActive {
		t.Error("single-use code must be redeemable again after refund")
	}
}

func TestRegisterUserBadInvite(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())

	_, _, err := c.RegisterUser(context.Background(), Profile{TelegramId: 3}, "INV_00000000deadbeef")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ledger.ErrNotFound, got %v", err)
	}
}

func TestRegisterUserReferral(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	referrer := &entity.User{TelegramId: 10, ReferralCode: "abcd1234", Role: entity.RoleUser}
	if err := db.CreateUser(ctx, referrer); err != nil {
		t.Fatal(err)
	}

	user, created, err := c.RegisterUser(ctx, Profile{TelegramId: 11, Username: "ref-joiner"}, "ref_abcd1234")
	if err != nil {
		t.Fatalf("referral registration refused: %v", err)
	}
	if !created || user.InvitedBy != 10 {
		t.Errorf("created=%v invited_by=%d", created, user.InvitedBy)
	}

	ref, err := db.ReferralByReferred(ctx, 11)
	if err != nil {
		t.Fatalf("referral row missing: %v", err)
	}
	if ref.Status != entity.ReferralPending || ref.ReferrerId != 10 {
		t.Errorf("referral = %+v", ref)
	}
}

func TestRegisterUserUnknownReferralClosed(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())

	_, _, err := c.RegisterUser(context.Background(), Profile{TelegramId: 12}, "ref_nosuchcode")
	if !errors.Is(err, ErrInviteRequired) {
		t.Fatalf("expected ErrInviteRequired, got %v", err)
	}
}

func TestActivateTrialOnce(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	user := &entity.User{TelegramId: 20, VlessUUID: "uuid-20"}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	sub, err := c.ActivateTrial(ctx, user)
	if err != nil {
		t.Fatalf("first activation: %v", err)
	}
	if sub.Status != entity.SubscriptionTrial {
		t.Errorf("subscription status = %q", sub.Status)
	}

	fresh, _ := db.UserByTelegramId(ctx, 20)
	if _, err = c.ActivateTrial(ctx, fresh); !errors.Is(err, ErrTrialUsed) {
		t.Fatalf("second activation: expected ErrTrialUsed, got %v", err)
	}
}

func TestStarsPaymentReplay(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	user := &entity.User{TelegramId: 30, VlessUUID: "uuid-30"}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	if err := c.RecordStarsPayment(ctx, user, "month_1", "charge-1"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	fresh, _ := db.UserByTelegramId(ctx, 30)
	if fresh.ExpiresAt == nil || !fresh.ExpiresAt.After(time.Now()) {
		t.Error("access not granted")
	}

	// re-delivered successful_payment update is a silent no-op
	if err := c.RecordStarsPayment(ctx, fresh, "month_1", "charge-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := db.subCount(30); got != 1 {
		t.Errorf("subscriptions after replay = %d, want 1", got)
	}
}

func TestCompletePaymentReplay(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	user := &entity.User{TelegramId: 40, VlessUUID: "uuid-40"}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	payment := &entity.Payment{
		TelegramId:        40,
		Provider:          entity.ProviderStripe,
		ProviderPaymentId: "cs_test_1",
		Amount:            500,
		Currency:          "USD",
		Status:            entity.PaymentPending,
		PlanCode:          "month_1",
		CreatedAt:         time.Now(),
	}
	if err := db.CreatePayment(ctx, payment); err != nil {
		t.Fatal(err)
	}

	if err := c.completePayment(ctx, "cs_test_1", "pi_1"); err != nil {
		t.Fatalf("first webhook: %v", err)
	}
	if err := c.completePayment(ctx, "cs_test_1", "pi_1"); err != nil {
		t.Fatalf("replayed webhook: %v", err)
	}
	if got := db.subCount(40); got != 1 {
		t.Errorf("subscriptions after replay = %d, want 1", got)
	}
}

func TestCompletePaymentFinishesInterruptedSettlement(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	user := &entity.User{TelegramId: 60, VlessUUID: "uuid-60"}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	payment := &entity.Payment{
		TelegramId:        60,
		Provider:          entity.ProviderStripe,
		ProviderPaymentId: "cs_test_60",
		Amount:            500,
		Currency:          "USD",
		Status:            entity.PaymentPending,
		PlanCode:          "month_1",
		CreatedAt:         time.Now(),
	}
	if err := db.CreatePayment(ctx, payment); err != nil {
		t.Fatal(err)
	}

	// the first delivery flips the status but dies before the grant
	db.userLookupErr = errors.New("connection reset")
	if err := c.completePayment(ctx, "cs_test_60", "pi_60"); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	stored, _ := db.PaymentByProviderId(ctx, "cs_test_60")
	if stored.Status != entity.PaymentCompleted {
		t.Fatalf("payment status = %q, want completed", stored.Status)
	}
	if got := db.subCount(60); got != 0 {
		t.Fatalf("subscriptions after failed delivery = %d, want 0", got)
	}

	// the provider's retry finishes the settlement
	if err := c.completePayment(ctx, "cs_test_60", "pi_60"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := db.subCount(60); got != 1 {
		t.Errorf("subscriptions after retry = %d, want 1", got)
	}
	fresh, _ := db.UserByTelegramId(ctx, 60)
	if fresh.ExpiresAt == nil || !fresh.ExpiresAt.After(time.Now()) {
		t.Error("access not granted on retry")
	}

	// a further replay stays a no-op
	if err := c.completePayment(ctx, "cs_test_60", "pi_60"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := db.subCount(60); got != 1 {
		t.Errorf("subscriptions after replay = %d, want 1", got)
	}
}

func TestStarsPaymentFinishesInterruptedSettlement(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	user := &entity.User{TelegramId: 61, VlessUUID: "uuid-61"}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	// the first delivery records the payment but dies before the grant
	db.userLookupErr = errors.New("connection reset")
	if err := c.RecordStarsPayment(ctx, user, "month_1", "charge-61"); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	if got := db.subCount(61); got != 0 {
		t.Fatalf("subscriptions after failed delivery = %d, want 0", got)
	}

	if err := c.RecordStarsPayment(ctx, user, "month_1", "charge-61"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := db.subCount(61); got != 1 {
		t.Errorf("subscriptions after redelivery = %d, want 1", got)
	}
}

func TestSettlementActivatesReferral(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	referrer := &entity.User{TelegramId: 50, ReferralCode: "r50code0"}
	buyer := &entity.User{TelegramId: 51, VlessUUID: "uuid-51"}
	if err := db.CreateUser(ctx, referrer); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateUser(ctx, buyer); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateReferral(ctx, &entity.Referral{
		ReferrerId: 50, ReferredId: 51,
		Status: entity.ReferralPending, BonusCents: 100,
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.RecordStarsPayment(ctx, buyer, "month_1", "charge-51"); err != nil {
		t.Fatalf("payment: %v", err)
	}

	ref, err := db.ReferralByReferred(ctx, 51)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Status != entity.ReferralActive {
		t.Errorf("referral status = %q, want active", ref.Status)
	}
	stats, _ := db.ReferralStats(ctx, 50)
	if stats.EarnedCents != 100 {
		t.Errorf("earned = %d, want 100", stats.EarnedCents)
	}
}

func TestOpenTicketTitleRuneBoundary(t *testing.T) {
	db := newFakeDB()
	c := testCore(t, db, testConf())
	ctx := context.Background()

	user := &entity.User{TelegramId: 80}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("п", 80) // 2 bytes per rune
	ticket, err := c.OpenTicket(ctx, user, entity.CategoryOther, text)
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}
	if !utf8.ValidString(ticket.Title) {
		t.Error("title is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(ticket.Title); got != 60 {
		t.Errorf("title length = %d runes, want 60", got)
	}
}
