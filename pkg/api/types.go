package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// StandingResponse is the customer-facing level page
type StandingResponse struct {
	CustomerID       string                     `json:"customer_id"`
	Tier             TierView                   `json:"tier"`
	NextTier         *TierView                  `json:"next_tier,omitempty"`
	Progress         loyalty.ProgressReport     `json:"progress"`
	Balances         Balances                   `json:"balances"`
	NextRequirements *loyalty.RequirementStatus `json:"next_requirements,omitempty"`
}

// TierView is a tier as shown to customers
type TierView struct {
	Name          string               `json:"name"`
	DisplayName   string               `json:"display_name"`
	Level         int                  `json:"level"`
	MinimumLiters decimal.Decimal      `json:"minimum_liters"`
	Benefits      loyalty.TierBenefits `json:"benefits"`
}

// Balances are the cumulative values of a customer
type Balances struct {
	Liters     decimal.Decimal `json:"liters"`
	Points     int64           `json:"points"`
	Spend      decimal.Decimal `json:"spend"`
	Cashback   decimal.Decimal `json:"cashback"`
	Commission decimal.Decimal `json:"commission"`
	Purchases  int             `json:"purchases"`
}

// PurchaseRequest is the body of RecordPurchase
type PurchaseRequest struct {
	PurchaseID string            `json:"purchase_id" validate:"omitempty,max=128,excludes=/"`
	Liters     decimal.Decimal   `json:"liters" validate:"required,gt=0"`
	Amount     decimal.Decimal   `json:"amount" validate:"gte=0"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" validate:"max=20,dive,keys,max=64,endkeys,max=256"`
}

// PurchaseResponse is returned by RecordPurchase
type PurchaseResponse struct {
	PurchaseID    string                     `json:"purchase_id"`
	Points        int64                      `json:"points_awarded"`
	Cashback      decimal.Decimal            `json:"cashback_awarded"`
	TierAtAccrual string                     `json:"tier_at_time_of_purchase"`
	Promoted      bool                       `json:"promoted"`
	Commission    *loyalty.CommissionOutcome `json:"commission,omitempty"`
	Standing      StandingResponse           `json:"standing"`
}

// RegisterRequest is the body of Register
type RegisterRequest struct {
	ReferrerID string     `json:"referrer_id" validate:"omitempty,max=255"`
	Since      *time.Time `json:"since,omitempty"`
}

// AdjustmentRequest is the body of AdjustPoints
type AdjustmentRequest struct {
	EntryID string `json:"entry_id" validate:"omitempty,max=128,excludes=/"`
	Points  int64  `json:"points" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=256"`
}

// TiersRequest is the body of PutTiers
type TiersRequest struct {
	Tiers []TierInput `json:"tiers" validate:"required,min=1,max=20,dive"`
}

// TierInput is a tier definition submitted by an administrator
type TierInput struct {
	Name         string            `json:"name" validate:"required,max=64"`
	LevelNumber  int               `json:"level_number" validate:"gte=1"`
	Requirements RequirementsInput `json:"requirements"`
	Benefits     BenefitsInput     `json:"benefits"`
}

// RequirementsInput mirrors loyalty.TierRequirements
type RequirementsInput struct {
	MinimumLiters    decimal.Decimal  `json:"minimum_liters" validate:"gte=0"`
	MinimumPoints    *int64           `json:"minimum_points,omitempty" validate:"omitempty,gte=0"`
	MinimumPurchases *int             `json:"minimum_purchases,omitempty" validate:"omitempty,gte=0"`
	MinimumSpend     *decimal.Decimal `json:"minimum_spend,omitempty" validate:"omitempty,gte=0"`
	MonthsAsCustomer *int             `json:"months_as_customer,omitempty" validate:"omitempty,gte=0"`
}

// BenefitsInput mirrors loyalty.TierBenefits; rates are percentages
type BenefitsInput struct {
	CashbackRate       *decimal.Decimal `json:"cashback_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	CommissionRate     *decimal.Decimal `json:"commission_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	FreeDelivery       bool             `json:"free_delivery,omitempty"`
	PrioritySupport    bool             `json:"priority_support,omitempty"`
	PointsMultiplier   *decimal.Decimal `json:"points_multiplier,omitempty" validate:"omitempty,gt=0,lte=10"`
}

// TiersResponse is returned by ListTiers and PutTiers
type TiersResponse struct {
	Tiers    []TierView `json:"tiers"`
	Warnings []string   `json:"warnings,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (t TierInput) definition() loyalty.TierDefinition {
	return loyalty.TierDefinition{
		Name:        t.Name,
		LevelNumber: t.LevelNumber,
		Requirements: loyalty.TierRequirements{
			MinimumLiters:    t.Requirements.MinimumLiters,
			MinimumPoints:    t.Requirements.MinimumPoints,
			MinimumPurchases: t.Requirements.MinimumPurchases,
			MinimumSpend:     t.Requirements.MinimumSpend,
			MonthsAsCustomer: t.Requirements.MonthsAsCustomer,
		},
		Benefits: loyalty.TierBenefits{
			CashbackRate:       t.Benefits.CashbackRate,
			CommissionRate:     t.Benefits.CommissionRate,
			DiscountPercentage: t.Benefits.DiscountPercentage,
			FreeDelivery:       t.Benefits.FreeDelivery,
			PrioritySupport:    t.Benefits.PrioritySupport,
			PointsMultiplier:   t.Benefits.PointsMultiplier,
		},
	}
}
