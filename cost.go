// Copyright 2025 The twmeter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"sync"
)

// CostCalculator converts consumption in liters to cost using a
// configurable per-liter rate. The rate can be adjusted at runtime
// through the web API; an optional callback persists the change.
type CostCalculator struct {
	mu        sync.RWMutex
	literCost float64
	currency  string

	// OnUpdate is invoked with the new rate after a successful update
	OnUpdate func(literCost float64)
}

// NewCostCalculator creates a calculator with the given rate, falling
// back to the default rate when zero. A non-zero rate outside the
// accepted range is rejected, same as a runtime update.
func NewCostCalculator(literCost float64) (*CostCalculator, error) {
	if literCost == 0 {
		literCost = DefaultLiterCost
	}
	if literCost < MinLiterCost || literCost > MaxLiterCost {
		return nil, &ValidationError{
			Field:   "liter_cost",
			Value:   literCost,
			Message: fmt.Sprintf("must be between %g and %g", MinLiterCost, MaxLiterCost),
		}
	}
	return &CostCalculator{
		literCost: literCost,
		currency:  "GBP",
	}, nil
}

// LiterCost returns the current per-liter rate
func (c *CostCalculator) LiterCost() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.literCost
}

// Currency returns the rate's currency code
func (c *CostCalculator) Currency() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currency
}

// CostFor returns the cost of the given consumption in liters
func (c *CostCalculator) CostFor(liters float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return liters * c.literCost
}

// UpdateLiterCost sets a new per-liter rate. Rates outside the
// accepted range are rejected with a ValidationError and leave the
// current rate untouched.
func (c *CostCalculator) UpdateLiterCost(literCost float64) error {
	if literCost < MinLiterCost || literCost > MaxLiterCost {
		return &ValidationError{
			Field:   "liter_cost",
			Value:   literCost,
			Message: fmt.Sprintf("must be between %g and %g", MinLiterCost, MaxLiterCost),
		}
	}

	c.mu.Lock()
	c.literCost = literCost
	callback := c.OnUpdate
	c.mu.Unlock()

	if callback != nil {
		callback(literCost)
	}
	return nil
}
