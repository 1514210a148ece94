// Package pooladapter implements the pool-unit adapter: translating a
// wrapped collateral amount into parent-collateral underlying units via an
// external redemption view.
package pooladapter

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
	"stabengine/internal/oracle"
)

// Adapter resolves underlying amounts for wrapped collateral, consulting
// one RedemptionView per pool-unit resource.
type Adapter struct {
	views map[assets.ResourceID]oracle.RedemptionView
}

// NewAdapter constructs an adapter with no registered views.
func NewAdapter() *Adapter {
	return &Adapter{views: make(map[assets.ResourceID]oracle.RedemptionView)}
}

// RegisterView associates a pool-unit resource with its redemption view.
func (a *Adapter) RegisterView(resource assets.ResourceID, view oracle.RedemptionView) {
	a.views[resource] = view
}

// Underlying converts amount of resource into parent-collateral units. It
// is total: when isPoolUnit is false, amount passes through unchanged.
func (a *Adapter) Underlying(amount decimal.Decimal, resource assets.ResourceID, isPoolUnit bool) (decimal.Decimal, error) {
	if !isPoolUnit {
		return amount, nil
	}
	view, ok := a.views[resource]
	if !ok {
		return decimal.Zero, fmt.Errorf("pooladapter: no redemption view registered for %s", resource)
	}
	return view.RedemptionValue(amount)
}
