package domain

import (
	"errors"
	"fmt"
	"sort"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderDispatched OrderStatus = "DISPATCHED"
	OrderPaid       OrderStatus = "PAID"
	OrderVoid       OrderStatus = "VOID"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderDispatched, OrderPaid, OrderVoid:
		return true
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid order transition")

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type StockEffect int

const (
	StockEffectNone StockEffect = iota
	StockEffectDeduct
	StockEffectRestore
)

func (e StockEffect) String() string {
	switch e {
	case StockEffectDeduct:
		return "deduct"
	case StockEffectRestore:
		return "restore"
	}
	return "none"
}

// Ledger says where an order lives once a transition commits.
type Ledger int

const (
	LedgerActive Ledger = iota
	LedgerCompleted
	LedgerRemoved
)

type Transition struct {
	From   OrderStatus
	To     OrderStatus
	Stock  StockEffect
	Ledger Ledger
}

var transitions = []Transition{
	{From: OrderPending, To: OrderDispatched, Stock: StockEffectDeduct, Ledger: LedgerActive},
	{From: OrderPending, To: OrderPaid, Stock: StockEffectDeduct, Ledger: LedgerCompleted},
	{From: OrderPending, To: OrderVoid, Stock: StockEffectNone, Ledger: LedgerRemoved},
	{From: OrderDispatched, To: OrderPaid, Stock: StockEffectNone, Ledger: LedgerCompleted},
	{From: OrderDispatched, To: OrderVoid, Stock: StockEffectRestore, Ledger: LedgerRemoved},
}

// LookupTransition returns the table row for from -> to.
func LookupTransition(from, to OrderStatus) (Transition, bool) {
	for _, t := range transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// TransitionPlan is everything a repository needs to commit a status change
// atomically: the order as it will be stored, the version it must still have,
// the stock deltas and where the order ends up.
type TransitionPlan struct {
	Order           Order
	ExpectedVersion int64
	ExpectedStatus  OrderStatus
	Transition      Transition
	StockChanges    []StockChange
}

// PlanTransition validates the move and prepares the next state of the order.
// The returned order carries the bumped version; the input is not modified.
func PlanTransition(order Order, to OrderStatus) (TransitionPlan, error) {
	t, ok := LookupTransition(order.Status, to)
	if !ok {
		return TransitionPlan{}, &TransitionError{OrderID: order.ID, From: order.Status, To: to}
	}

	next := order
	next.Items = append([]OrderLine(nil), order.Items...)
	next.Status = to
	next.Version = order.Version + 1

	return TransitionPlan{
		Order:           next,
		ExpectedVersion: order.Version,
		ExpectedStatus:  order.Status,
		Transition:      t,
		StockChanges:    StockChangesFor(order.Items, t.Stock),
	}, nil
}

// StockChangesFor folds lines into one signed delta per product, sorted by product id
// so that concurrent writers lock rows in the same order.
func StockChangesFor(lines []OrderLine, effect StockEffect) []StockChange {
	if effect == StockEffectNone {
		return nil
	}
	sign := -1
	if effect == StockEffectRestore {
		sign = 1
	}

	byProduct := make(map[string]int, len(lines))
	for _, line := range lines {
		byProduct[line.ProductID] += line.Quantity
	}
	changes := make([]StockChange, 0, len(byProduct))
	for id, qty := range byProduct {
		if qty == 0 {
			continue
		}
		changes = append(changes, StockChange{ProductID: id, Delta: sign * qty})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ProductID < changes[j].ProductID })
	return changes
}
