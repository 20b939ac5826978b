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

import "time"

// OAuth2 / B2C login settings
const (
	// DefaultClientID - the portal's public MSAL client id
	DefaultClientID = "cedfde2d-79a7-44fd-9833-cae769640d3d"

	// SigninPolicy - the B2C user flow driving the scraped login sequence
	SigninPolicy = "B2C_1_tw_website_signin"

	// OAuthScope - scope requested at authorize and token exchange
	OAuthScope = "openid profile offline_access"

	// RedirectURI - registered redirect target of the portal's SPA
	RedirectURI = "https://www.thameswater.co.uk/login"

	// TransCookieName - cookie carrying the B2C transaction token
	TransCookieName = "x-ms-cpim-trans"

	// CSRFCookieName - cookie carrying the B2C csrf token
	CSRFCookieName = "x-ms-cpim-csrf"

	// AuthenticatedCookieName - client-side marker cookie set after portal login
	AuthenticatedCookieName = "b2cAuthenticated"
)

// BrowserUserAgent - the portal rejects non-browser user agents on
// several login steps, so every exchange presents this one.
const BrowserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// HTTP client settings
const (
	// HTTPClientTimeout - Maximum time for a single HTTP exchange
	HTTPClientTimeout = 30 * time.Second
)

// Aggregation run settings
const (
	// ReportingLagDays - the utility publishes hourly data 2-3 days late;
	// the fetch window is anchored this many days behind the current date
	ReportingLagDays = 3

	// IncrementalLookbackDays - window length when prior statistics exist
	IncrementalLookbackDays = 3

	// ColdStartLookbackDays - window length on a cold start
	ColdStartLookbackDays = 30

	// StateLookupTimeout - budget for loading prior aggregation state;
	// on timeout the run degrades to a cold start instead of aborting
	StateLookupTimeout = 5 * time.Second
)

// Statistic series names handed to the store
const (
	SeriesConsumption = "consumption"
	SeriesCost        = "cost"
)

// Cost rate bounds (GBP per liter)
const (
	MinLiterCost     = 0.00005
	MaxLiterCost     = 1.0
	DefaultLiterCost = 0.0030682
)

// Scheduler settings
const (
	// SchedulerTickInterval - granularity of the hour-of-day trigger check
	SchedulerTickInterval = time.Minute

	// TriggerMinuteJitter - runs start at a random minute in [0, jitter]
	// past the configured hour to avoid hammering the portal on the hour
	TriggerMinuteJitter = 10
)

// Web dashboard settings
const (
	// WebMaxStatisticsDays - maximum history window served by /api/statistics
	WebMaxStatisticsDays = 90

	// WebDefaultStatisticsDays - default history window for /api/statistics
	WebDefaultStatisticsDays = 7

	// WebShutdownTimeout - graceful shutdown budget for the status server
	WebShutdownTimeout = 5 * time.Second
)
