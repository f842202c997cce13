package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/crestlane/tapeload/internal/store"
)

// maxTradeNameAttempts bounds the suffix search when the derived trade
// name keeps colliding with other sellers' trades.
const maxTradeNameAttempts = 50

// ParentNotFoundError reports an explicitly supplied seller or trade ID
// that does not exist. Explicit IDs are never auto-created.
type ParentNotFoundError struct {
	Kind string // "seller" or "trade"
	ID   uuid.UUID
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("no %s with id %s", e.Kind, e.ID)
}

// resolveParents produces the seller and trade an import attaches to.
// An explicit trade ID pins both. Otherwise the seller comes from its
// ID, its name, or the tape file name, and the trade resolves or is
// created under it using the file name. Re-running the same file with
// the same context lands on the same trade.
func (imp *Importer) resolveParents(ctx context.Context, opts Options) (store.Seller, store.Trade, error) {
	if opts.TradeID != uuid.Nil {
		return imp.resolveExplicitTrade(ctx, opts)
	}

	var seller store.Seller
	var err error
	switch {
	case opts.SellerID != uuid.Nil:
		seller, err = imp.store.GetSellerByID(ctx, opts.SellerID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Seller{}, store.Trade{}, &ParentNotFoundError{Kind: "seller", ID: opts.SellerID}
		}
		if err != nil {
			return store.Seller{}, store.Trade{}, fmt.Errorf("resolve seller: %w", err)
		}
	default:
		name := opts.SellerName
		if name == "" {
			name = fileStem(opts.FilePath)
		}
		seller, err = imp.getOrCreateSeller(ctx, name)
		if err != nil {
			return store.Seller{}, store.Trade{}, err
		}
	}

	trade, err := imp.getOrCreateTrade(ctx, seller, fileStem(opts.FilePath))
	if err != nil {
		return store.Seller{}, store.Trade{}, err
	}
	return seller, trade, nil
}

func (imp *Importer) resolveExplicitTrade(ctx context.Context, opts Options) (store.Seller, store.Trade, error) {
	trade, err := imp.store.GetTradeByID(ctx, opts.TradeID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Seller{}, store.Trade{}, &ParentNotFoundError{Kind: "trade", ID: opts.TradeID}
	}
	if err != nil {
		return store.Seller{}, store.Trade{}, fmt.Errorf("resolve trade: %w", err)
	}
	seller, err := imp.store.GetSellerByID(ctx, trade.SellerID)
	if err != nil {
		return store.Seller{}, store.Trade{}, fmt.Errorf("resolve trade's seller: %w", err)
	}
	if opts.SellerID != uuid.Nil && opts.SellerID != seller.ID {
		return store.Seller{}, store.Trade{}, fmt.Errorf("trade %q belongs to seller %q, not the given seller", trade.Name, seller.Name)
	}
	return seller, trade, nil
}

func (imp *Importer) getOrCreateSeller(ctx context.Context, name string) (store.Seller, error) {
	seller, err := imp.store.GetSellerByName(ctx, name)
	if err == nil {
		return seller, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Seller{}, fmt.Errorf("resolve seller %q: %w", name, err)
	}
	seller, err = imp.store.CreateSeller(ctx, name)
	if err != nil {
		if store.IsUniqueViolation(err) {
			// Lost a create race; the seller exists now.
			return imp.store.GetSellerByName(ctx, name)
		}
		return store.Seller{}, fmt.Errorf("create seller %q: %w", name, err)
	}
	imp.log.Info("seller created", "seller", seller.Name, "seller_id", seller.ID)
	return seller, nil
}

// getOrCreateTrade resolves baseName under the seller, appending " (2)",
// " (3)"... while the name is held by another seller's trade. Trade
// names are globally unique, so the first free or same-seller name wins.
func (imp *Importer) getOrCreateTrade(ctx context.Context, seller store.Seller, baseName string) (store.Trade, error) {
	for i := 0; i < maxTradeNameAttempts; i++ {
		name := baseName
		if i > 0 {
			name = fmt.Sprintf("%s (%d)", baseName, i+1)
		}
		trade, err := imp.store.GetTradeByName(ctx, name)
		if err == nil {
			if trade.SellerID == seller.ID {
				return trade, nil
			}
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Trade{}, fmt.Errorf("resolve trade %q: %w", name, err)
		}
		trade, err = imp.store.CreateTrade(ctx, seller.ID, name)
		if err != nil {
			if store.IsUniqueViolation(err) {
				// Lost a create race. If our seller won it, reuse the
				// trade; otherwise move on to the next suffix.
				if raced, rerr := imp.store.GetTradeByName(ctx, name); rerr == nil && raced.SellerID == seller.ID {
					return raced, nil
				}
				continue
			}
			return store.Trade{}, fmt.Errorf("create trade %q: %w", name, err)
		}
		imp.log.Info("trade created", "trade", trade.Name, "trade_id", trade.ID, "seller", seller.Name)
		return trade, nil
	}
	return store.Trade{}, fmt.Errorf("no free trade name for %q after %d attempts", baseName, maxTradeNameAttempts)
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
