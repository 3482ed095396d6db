package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/cache"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const maxLineQuantity = 99

type AddItemRequest struct {
	ListingID       uuid.UUID
	VariantID       *uuid.UUID
	Quantity        int32
	Personalization map[string]string
}

// CartService manages the mutable cart. Writes run the same purchasability and advisory
// stock checks as checkout so problems surface early; checkout repeats them authoritatively.
type CartService struct {
	repo  r.RepoInterface
	cache cache.CartCache
	sfg   singleflight.Group // Prevents cache stampede
	log   *slog.Logger
	now   func() time.Time
}

func NewCartService(repo r.RepoInterface, cfg Config) *CartService {
	cfg = cfg.withDefaults()
	return &CartService{
		repo:  repo,
		cache: cfg.Cache,
		log:   cfg.Logger,
		now:   nowUTC,
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*d.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get error", slog.String("user_id", userID), slog.Any("error", err))
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, r.ErrCartNotFound) {
			now := s.now()
			return &d.Cart{UserID: userID, Lines: []d.CartLine{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		if errSet := s.cache.Set(ctx, userID, cart); errSet != nil {
			s.log.WarnContext(ctx, "cache set error", slog.String("user_id", userID), slog.Any("error", errSet))
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*d.Cart), nil
}

// AddItem adds a line, or raises the quantity of the line for the same listing and variant.
func (s *CartService) AddItem(ctx context.Context, userID string, req AddItemRequest) (*d.Cart, error) {
	if err := validQuantity(req.Quantity); err != nil {
		return nil, err
	}

	var cart *d.Cart
	err := s.repo.WithTx(ctx, func(tx r.Tx) error {
		current, err := tx.EnsureCart(ctx, userID)
		if err != nil {
			return err
		}

		line, exists := findLine(current, req.ListingID, req.VariantID)
		if exists {
			line.Quantity += req.Quantity
			if len(req.Personalization) > 0 {
				line.Personalization = maps.Clone(req.Personalization)
			}
		} else {
			line = d.CartLine{
				ID:              uuid.New(),
				ListingID:       req.ListingID,
				VariantID:       req.VariantID,
				Quantity:        req.Quantity,
				Personalization: maps.Clone(req.Personalization),
				AddedAt:         s.now(),
			}
		}
		if err := validQuantity(line.Quantity); err != nil {
			return err
		}

		resolved, err := checkLine(ctx, tx, userID, line)
		if err != nil {
			return err
		}
		line.CachedUnitPrice = resolved.unitPrice

		if exists {
			err = tx.UpdateCartLine(ctx, current.ID, &line)
		} else {
			err = tx.AddCartLine(ctx, current.ID, &line)
		}
		if err != nil {
			return err
		}
		cart, err = tx.LockCart(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return cart, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID string, lineID uuid.UUID, quantity int32) (*d.Cart, error) {
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}

	var cart *d.Cart
	err := s.repo.WithTx(ctx, func(tx r.Tx) error {
		current, err := tx.LockCart(ctx, userID)
		if errors.Is(err, r.ErrCartNotFound) {
			return ErrCartLineNotFound
		}
		if err != nil {
			return err
		}

		var line *d.CartLine
		for i := range current.Lines {
			if current.Lines[i].ID == lineID {
				line = &current.Lines[i]
			}
		}
		if line == nil {
			return ErrCartLineNotFound
		}
		line.Quantity = quantity

		resolved, err := checkLine(ctx, tx, userID, *line)
		if err != nil {
			return err
		}
		line.CachedUnitPrice = resolved.unitPrice
		if err := tx.UpdateCartLine(ctx, current.ID, line); err != nil {
			return err
		}
		cart, err = tx.LockCart(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, lineID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(tx r.Tx) error {
		current, err := tx.LockCart(ctx, userID)
		if errors.Is(err, r.ErrCartNotFound) {
			return ErrCartLineNotFound
		}
		if err != nil {
			return err
		}
		err = tx.DeleteCartLine(ctx, current.ID, lineID)
		if errors.Is(err, r.ErrCartLineNotFound) {
			return ErrCartLineNotFound
		}
		return err
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	err := s.repo.WithTx(ctx, func(tx r.Tx) error {
		current, err := tx.LockCart(ctx, userID)
		if errors.Is(err, r.ErrCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.DeleteCartLines(ctx, current.ID)
	})
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *CartService) invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "cache invalidate error", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// checkLine runs the checkout line checks for a single line and reports a violation as a ValidationError.
func checkLine(ctx context.Context, tx r.Tx, userID string, line d.CartLine) (*resolvedLine, error) {
	resolved, violation, err := resolveLine(ctx, tx, userID, line)
	if err != nil {
		return nil, err
	}
	if violation != nil {
		return nil, &ValidationError{Violations: []LineViolation{*violation}}
	}
	return resolved, nil
}

func findLine(cart *d.Cart, listingID uuid.UUID, variantID *uuid.UUID) (d.CartLine, bool) {
	for _, l := range cart.Lines {
		if l.ListingID != listingID {
			continue
		}
		if (l.VariantID == nil && variantID == nil) || (l.VariantID != nil && variantID != nil && *l.VariantID == *variantID) {
			return l, true
		}
	}
	return d.CartLine{}, false
}

func validQuantity(q int32) error {
	if q < 1 || q > maxLineQuantity {
		return ErrInvalidQuantity
	}
	return nil
}
