// Package gateway implements the core verbs from §4.I: createIntent,
// ensureAssigned, issueToken, redeemToken, getStatus, scanForPayments.
// It is the one place that wires the descriptor engine, token codec,
// storage, watched-address set, scheduler and event dispatcher together;
// the HTTP surface (internal/httpapi) is a thin adapter over this type.
//
// Grounded on the reference node's service-layer package: a single
// struct holding every collaborator by interface, each verb a short
// read-validate-write-emit sequence.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apicfg "github.com/Chigala/bitcoin-pay/internal/config/api"
	schedulercfg "github.com/Chigala/bitcoin-pay/internal/config/scheduler"
	tokencfg "github.com/Chigala/bitcoin-pay/internal/config/token"
	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	"github.com/Chigala/bitcoin-pay/internal/core/descriptor"
	"github.com/Chigala/bitcoin-pay/internal/core/scheduler"
	"github.com/Chigala/bitcoin-pay/internal/core/token"
	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// EventEmitter hands a lifecycle event to the dispatcher (§4.J).
type EventEmitter interface {
	Emit(types.Event)
}

// Scanner is the subset of *scheduler.Scheduler the gateway needs for
// the forced pull-path verb.
type Scanner interface {
	ScanNow(ctx context.Context, in *types.Intent) error
}

// Config aggregates the cross-cutting defaults the gateway's verbs fall
// back on when a caller omits an optional parameter.
type Config struct {
	API       apicfg.Config
	Token     tokencfg.Config
	Watcher   watchercfg.Config
	Scheduler schedulercfg.Config
}

// Gateway implements §4.I over one storage backend and one watched
// descriptor.
type Gateway struct {
	cfg       Config
	store     storageiface.Core
	descr     *descriptor.Engine
	tokens    *token.Codec
	scheduler Scanner
	watched   *WatchedAddressSet
	emitter   EventEmitter
	clock     clockiface.Clock
	logger    logiface.Logger
}

// New builds a Gateway over a WatchedAddressSet the caller has already
// built and loaded (§4.F). The set is shared, not owned: the same
// instance must back the reconciler's address lookups (§5), so wiring
// order is build-the-set, build-the-reconciler, build-the-gateway —
// never the other way around, or the reconciler watches a different set
// than ensureAssigned populates.
func New(ctx context.Context, cfg Config, store storageiface.Core, descr *descriptor.Engine, tokens *token.Codec, sch Scanner, watched *WatchedAddressSet, emitter EventEmitter, clk clockiface.Clock, logger logiface.Logger) (*Gateway, error) {
	if watched == nil {
		return nil, fmt.Errorf("gateway: watched address set is required")
	}
	if len(cfg.Token.Secret) < 32 {
		logger.Warn("gateway: token secret is shorter than the recommended 32 bytes",
			logiface.F("length", len(cfg.Token.Secret)))
	}

	return &Gateway{
		cfg: cfg, store: store, descr: descr, tokens: tokens, scheduler: sch,
		watched: watched, emitter: emitter, clock: clk, logger: logger,
	}, nil
}

// WatchedAddresses exposes the set for the reconciler/zmq wiring layer.
func (g *Gateway) WatchedAddresses() *WatchedAddressSet {
	return g.watched
}

// CreateIntent implements §4.I createIntent.
func (g *Gateway) CreateIntent(ctx context.Context, params types.CreateIntentParams) (*types.Intent, error) {
	if params.AmountSats <= 0 {
		return nil, wrapValidation("createIntent", "amountSats must be > 0")
	}

	requiredConfs := params.RequiredConfs
	if requiredConfs <= 0 {
		requiredConfs = g.cfg.Watcher.DefaultRequiredConfs
	}
	if requiredConfs < 1 {
		requiredConfs = 1
	}

	expiresInMinutes := params.ExpiresInMinutes
	if expiresInMinutes <= 0 {
		expiresInMinutes = g.cfg.Scheduler.IntentExpiryMinutes
	}
	if expiresInMinutes <= 0 {
		return nil, wrapValidation("createIntent", "expiresInMinutes must be > 0")
	}

	now := g.clock.Now()
	intent := &types.Intent{
		ID:            uuid.NewString(),
		AmountSats:    params.AmountSats,
		Status:        types.IntentPending,
		RequiredConfs: requiredConfs,
		ExpiresAt:     now.Add(time.Duration(expiresInMinutes) * time.Minute),
		CustomerID:    params.CustomerID,
		Email:         params.Email,
		Memo:          params.Memo,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := g.store.CreateIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("gateway: creating intent: %w", err)
	}

	g.emitter.Emit(types.Event{Kind: types.EventIntentCreated, Intent: *intent})
	return intent, nil
}

// EnsureAssigned implements §4.I ensureAssigned: idempotent address
// assignment, preferring an existing unassigned address before deriving
// a fresh one at max(derivationIndex)+1.
func (g *Gateway) EnsureAssigned(ctx context.Context, intentID string) (*types.AssignedView, error) {
	intent, err := g.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if intent.Status != types.IntentPending && intent.Status != types.IntentProcessing {
		return nil, wrapInvalidState("ensureAssigned", fmt.Sprintf("intent %s is %s", intentID, intent.Status))
	}

	if intent.AddressID != "" {
		addr, err := g.store.GetAddressByID(ctx, intent.AddressID)
		if err != nil {
			return nil, err
		}
		return g.buildAssignedView(intent, addr), nil
	}

	addr, err := g.takeOrDeriveAddress(ctx)
	if err != nil {
		return nil, err
	}

	if err := g.store.AssignAddressToIntent(ctx, addr.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("gateway: assigning address: %w", err)
	}
	g.watched.Add(addr.Address, addr.ID)
	intent.AddressID = addr.ID

	return g.buildAssignedView(intent, addr), nil
}

func (g *Gateway) takeOrDeriveAddress(ctx context.Context) (*types.DepositAddress, error) {
	if addr, err := g.store.NextUnassignedAddress(ctx); err == nil {
		return addr, nil
	}

	idx, err := g.store.NextDerivationIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: allocating derivation index: %w", err)
	}
	derivation, err := g.descr.Derive(uint32(idx))
	if err != nil {
		return nil, fmt.Errorf("gateway: deriving address at index %d: %w", idx, err)
	}

	addr := &types.DepositAddress{
		ID: uuid.NewString(), Address: derivation.Address, DerivationIndex: idx,
		ScriptPubKeyHex: derivation.ScriptPubKeyHex, CreatedAt: g.clock.Now(),
	}
	if err := g.store.CreateAddress(ctx, addr); err != nil {
		return nil, fmt.Errorf("gateway: persisting derived address: %w", err)
	}
	return addr, nil
}

func (g *Gateway) buildAssignedView(intent *types.Intent, addr *types.DepositAddress) *types.AssignedView {
	return &types.AssignedView{
		Address:    addr.Address,
		BIP21:      buildBIP21(addr.Address, intent.AmountSats, intent.Memo, ""),
		AmountSats: intent.AmountSats,
		ExpiresAt:  intent.ExpiresAt,
		Status:     intent.Status,
	}
}

// IssueToken implements §4.I issueToken.
func (g *Gateway) IssueToken(ctx context.Context, params types.IssueTokenParams) (*types.IssuedToken, error) {
	intent, err := g.store.GetIntent(ctx, params.IntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == types.IntentExpired || intent.Status == types.IntentFailed {
		return nil, wrapInvalidState("issueToken", fmt.Sprintf("intent %s is %s", params.IntentID, intent.Status))
	}

	ttl := params.TTLSeconds
	if ttl <= 0 {
		ttl = int64(g.cfg.Token.DefaultTTL.Seconds())
	}

	tok, err := g.tokens.Issue(intent.ID, ttl)
	if err != nil {
		return nil, fmt.Errorf("gateway: issuing token: %w", err)
	}

	now := g.clock.Now()
	row := &types.MagicLinkToken{
		ID: uuid.NewString(), Token: tok, IntentID: intent.ID,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second), CreatedAt: now,
	}
	if err := g.store.CreateToken(ctx, row); err != nil {
		return nil, fmt.Errorf("gateway: persisting token: %w", err)
	}

	url := g.cfg.Token.BaseURL + g.cfg.API.BasePath + "/pay/" + tok
	return &types.IssuedToken{URL: url, Token: tok}, nil
}

// RedeemToken implements §4.I redeemToken. Per §7's user-visible-failures
// rule, callers should render any error here as the same opaque "Invalid
// or expired link" message rather than branching on its taxonomy.
func (g *Gateway) RedeemToken(ctx context.Context, tokenValue string) (*types.RedeemedToken, error) {
	payload, err := g.tokens.Verify(tokenValue)
	if err != nil {
		return nil, err
	}

	row, err := g.store.GetTokenByValue(ctx, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenNotFound, err)
	}

	if row.Consumed {
		if g.cfg.Token.Reuse == tokencfg.ReuseSingleUse {
			return nil, wrapInvalidState("redeemToken", "token already consumed")
		}
		return &types.RedeemedToken{IntentID: payload.IntentID}, nil
	}

	if err := g.store.MarkTokenConsumed(ctx, row.ID, g.clock.Now().Unix()); err != nil {
		return nil, fmt.Errorf("gateway: marking token consumed: %w", err)
	}

	return &types.RedeemedToken{IntentID: payload.IntentID}, nil
}

// GetStatus implements §4.I getStatus, using the most recent observation
// by seenAt.
func (g *Gateway) GetStatus(ctx context.Context, intentID string) (*types.IntentStatusView, error) {
	intent, err := g.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	view := &types.IntentStatusView{
		Status: intent.Status, AmountSats: intent.AmountSats,
		ExpiresAt: intent.ExpiresAt, ConfirmedAt: intent.ConfirmedAt,
	}

	if intent.AddressID != "" {
		if obs, err := g.store.LatestObservationForIntent(ctx, intent.AddressID); err == nil {
			view.Confs = obs.Confirmations
			view.Txid = obs.Txid
			view.ValueSats = obs.ValueSats
		}
	}
	return view, nil
}

// ScanForPayments implements §4.I scanForPayments, backing
// `POST /scan/:intentId`.
func (g *Gateway) ScanForPayments(ctx context.Context, intentID string) error {
	intent, err := g.store.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.AddressID == "" {
		return wrapInvalidState("scanForPayments", fmt.Sprintf("intent %s has no assigned address", intentID))
	}
	return g.scheduler.ScanNow(ctx, intent)
}
