package ledger

import (
	"errors"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/store"
)

// CooldownAfterClose is the fixed gate cooldown placed on a ticker after its
// position fully closes, so the next signal cannot fire into the same move.
const CooldownAfterClose = 5 * time.Minute

type Outcome string

const (
	OutcomeOpened    Outcome = "opened"
	OutcomeIncreased Outcome = "increased"
	OutcomeReduced   Outcome = "reduced"
	OutcomeClosed    Outcome = "closed"
)

type Result struct {
	Outcome  Outcome
	Position domain.Position
}

// Book tracks net quantity and side per ticker, one open position at most.
type Book struct {
	store store.Store
}

func NewBook(st store.Store) *Book {
	return &Book{store: st}
}

// SideForAction is the side a fresh fill opens: buys go long, sells go short.
func SideForAction(action domain.OrderAction) domain.PositionSide {
	if action == domain.ActionSell {
		return domain.SideShort
	}
	return domain.SideLong
}

// NextQuantity is the side-aware fill arithmetic, kept pure so it can be
// tested without persistence. For a long, buys add and sells reduce; for a
// short, sells add to the short size and buys cover it.
func NextQuantity(side domain.PositionSide, action domain.OrderAction, existing, fill float64) float64 {
	grows := (side == domain.SideLong && action == domain.ActionBuy) ||
		(side == domain.SideShort && action == domain.ActionSell)
	if grows {
		return existing + fill
	}
	return existing - fill
}

// Apply books one fill. A resulting quantity at or below zero closes the
// position and starts the post-close gate cooldown; an over-large closing
// fill never flips the position.
func (b *Book) Apply(ticker string, action domain.OrderAction, quantity, price float64) (Result, error) {
	now := time.Now().UTC()
	position, err := b.store.OpenPositionForTicker(ticker)
	if errors.Is(err, store.ErrNotFound) {
		created := b.store.CreatePosition(domain.Position{
			Ticker:     ticker,
			Side:       SideForAction(action),
			Quantity:   quantity,
			EntryPrice: price,
			OpenedAt:   now,
		})
		return Result{Outcome: OutcomeOpened, Position: created}, nil
	}
	if err != nil {
		return Result{}, err
	}

	next := NextQuantity(position.Side, action, position.Quantity, quantity)
	if next <= 0 {
		closed, err := b.store.ClosePosition(position.ID, now)
		if err != nil {
			return Result{}, err
		}
		b.store.SetGateCooldown(ticker, now.Add(CooldownAfterClose))
		return Result{Outcome: OutcomeClosed, Position: closed}, nil
	}

	updated, err := b.store.SetPositionQuantity(position.ID, next)
	if err != nil {
		return Result{}, err
	}
	outcome := OutcomeReduced
	if next > position.Quantity {
		outcome = OutcomeIncreased
	}
	return Result{Outcome: outcome, Position: updated}, nil
}
