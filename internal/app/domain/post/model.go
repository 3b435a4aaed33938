package post

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the closed set of settlement currencies.
type Currency string

const (
	USDC Currency = "USDC"
	SOL  Currency = "SOL"
)

// Decimals is the number of minor-unit digits for the currency.
func (c Currency) Decimals() int32 {
	switch c {
	case USDC:
		return 6
	case SOL:
		return 9
	default:
		return 0
	}
}

func (c Currency) Valid() bool {
	return c == USDC || c == SOL
}

// ParseCurrency accepts case-insensitive currency codes.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, raw)
	}
	return c, nil
}

// Post is a content item. MediaURL is the gated part; TeaserText is public.
type Post struct {
	ID         string          `json:"id"`
	CreatorID  string          `json:"creator_id"`
	Title      string          `json:"title"`
	TeaserText string          `json:"teaser_text"`
	MediaURL   string          `json:"media_url"`
	Price      decimal.Decimal `json:"price"`
	Currency   Currency        `json:"currency"`
	Locked     bool            `json:"locked"`
	LikesCount int             `json:"likes_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

var (
	ErrTitleRequired     = errors.New("title required")
	ErrCreatorRequired   = errors.New("creator required")
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrNegativePrice     = errors.New("price must not be negative")
	ErrLockedWithoutCost = errors.New("locked posts must have a price greater than zero")
	ErrPricePrecision    = errors.New("price has more decimal places than the currency allows")
)

// Validate enforces the post invariants. Unlocked posts may carry any
// non-negative price since it has no effect on access.
func (p Post) Validate() error {
	if strings.TrimSpace(p.CreatorID) == "" {
		return ErrCreatorRequired
	}
	if strings.TrimSpace(p.Title) == "" {
		return ErrTitleRequired
	}
	if !p.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, p.Currency)
	}
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	if p.Locked && !p.Price.IsPositive() {
		return ErrLockedWithoutCost
	}
	if !p.Price.Equal(p.Price.Truncate(p.Currency.Decimals())) {
		return ErrPricePrecision
	}
	return nil
}

// MinorUnits converts the post price into integer minor units of its currency
// (micro-USDC or lamports).
func (p Post) MinorUnits() int64 {
	return ToMinorUnits(p.Price, p.Currency)
}

// ToMinorUnits shifts amount by the currency's decimals, truncating any excess
// precision.
func ToMinorUnits(amount decimal.Decimal, c Currency) int64 {
	return amount.Shift(c.Decimals()).Truncate(0).IntPart()
}
