package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
)

// stockMove is the net quantity a document moves for one product.
type stockMove struct {
	productID string
	name      string
	qty       int
}

// Row locks on products are always taken in ascending id order, so every
// ledger walk below goes through sortedMoves or productOrder.

func saleMoves(lines []domain.SaleLine) []stockMove {
	moves := make(map[string]*stockMove, len(lines))
	for _, line := range lines {
		addMove(moves, line.ProductID, line.ProductName, line.Qty)
	}
	return sortedMoves(moves)
}

func receiptMoves(lines []domain.ReceiptLine) []stockMove {
	moves := make(map[string]*stockMove, len(lines))
	for _, line := range lines {
		addMove(moves, line.ProductID, line.ProductName, line.Qty)
	}
	return sortedMoves(moves)
}

func addMove(moves map[string]*stockMove, productID string, name string, qty int) {
	if move, ok := moves[productID]; ok {
		move.qty += qty
		return
	}
	moves[productID] = &stockMove{productID: productID, name: name, qty: qty}
}

func sortedMoves(moves map[string]*stockMove) []stockMove {
	out := make([]stockMove, 0, len(moves))
	for _, move := range moves {
		out = append(out, *move)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

// productOrder returns the distinct ids in ascending order.
func productOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// loadActiveProducts reads every referenced product, locking the rows when
// the ledger is transactional.
func loadActiveProducts(ctx context.Context, ledger store.Ledger, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	for _, id := range productOrder(ids) {
		product, err := ledger.FindActiveProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		products[id] = *product
	}
	return products, nil
}

// revalidateStock re-reads every product on a stored sale and checks that
// current stock still covers it.
func revalidateStock(ctx context.Context, ledger store.Ledger, lines []domain.SaleLine) error {
	for _, move := range saleMoves(lines) {
		product, err := ledger.GetProduct(ctx, move.productID)
		if err != nil {
			return fmt.Errorf("product %s: %w", move.productID, err)
		}
		if product.Stock < move.qty {
			return fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, product.Name, product.Stock, move.qty)
		}
	}
	return nil
}

func debitLines(ctx context.Context, ledger store.Ledger, lines []domain.SaleLine) error {
	for _, move := range saleMoves(lines) {
		if err := ledger.DebitStock(ctx, move.productID, move.qty); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				return fmt.Errorf("%w: %s needs %d", store.ErrInsufficientStock, move.name, move.qty)
			}
			return fmt.Errorf("product %s: %w", move.productID, err)
		}
	}
	return nil
}

func creditLines(ctx context.Context, ledger store.Ledger, lines []domain.SaleLine) error {
	for _, move := range saleMoves(lines) {
		if err := ledger.IncrementStock(ctx, move.productID, move.qty); err != nil {
			return fmt.Errorf("product %s: %w", move.productID, err)
		}
	}
	return nil
}
