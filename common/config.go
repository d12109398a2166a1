/*
 * Copyright 2023-2025 Verdant Grid, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
	redisutil "github.com/kthomas/go-redisutil"
)

const defaultCarbonFactorDenominator = uint64(1000)
const defaultMinEnergyThreshold = uint64(100)
const defaultIssuanceWindowTolerance = time.Hour

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions flags this instance to consume NATS subscriptions
	ConsumeNATSStreamingSubscriptions bool

	// CarbonFactorDenominator scales the grams-CO2-per-kWh carbon factor when
	// deriving a carbon amount from an energy amount
	CarbonFactorDenominator uint64

	// MinEnergyThreshold is the minimum provable energy production, in kWh,
	// accepted by the issuance circuit
	MinEnergyThreshold uint64

	// IssuanceWindowTolerance bounds how far past the ledger clock a proof's
	// reporting window may extend before a mint is refused
	IssuanceWindowTolerance time.Duration

	// RegistryStrictRoot requires the advertised commitment registry root to
	// match the merkle root public signal on private transfers
	RegistryStrictRoot bool
)

func init() {
	godotenv.Load()

	requireLogger()
	requireLedgerConfiguration()

	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("carbonledger", lvl, endpoint)
}

func requireLedgerConfiguration() {
	CarbonFactorDenominator = defaultCarbonFactorDenominator
	if os.Getenv("CARBON_FACTOR_DENOMINATOR") != "" {
		denominator, err := strconv.ParseUint(os.Getenv("CARBON_FACTOR_DENOMINATOR"), 10, 64)
		if err != nil || denominator == 0 {
			Log.Panicf("failed to parse CARBON_FACTOR_DENOMINATOR; %s", os.Getenv("CARBON_FACTOR_DENOMINATOR"))
		}
		CarbonFactorDenominator = denominator
	}

	MinEnergyThreshold = defaultMinEnergyThreshold
	if os.Getenv("MIN_ENERGY_THRESHOLD") != "" {
		threshold, err := strconv.ParseUint(os.Getenv("MIN_ENERGY_THRESHOLD"), 10, 64)
		if err != nil {
			Log.Panicf("failed to parse MIN_ENERGY_THRESHOLD; %s", os.Getenv("MIN_ENERGY_THRESHOLD"))
		}
		MinEnergyThreshold = threshold
	}

	IssuanceWindowTolerance = defaultIssuanceWindowTolerance
	if os.Getenv("ISSUANCE_WINDOW_TOLERANCE") != "" {
		tolerance, err := time.ParseDuration(os.Getenv("ISSUANCE_WINDOW_TOLERANCE"))
		if err != nil || tolerance < 0 {
			Log.Panicf("failed to parse ISSUANCE_WINDOW_TOLERANCE; %s", os.Getenv("ISSUANCE_WINDOW_TOLERANCE"))
		}
		IssuanceWindowTolerance = tolerance
	}

	RegistryStrictRoot = strings.ToLower(os.Getenv("REGISTRY_STRICT_ROOT")) == "true"
}

// RequireRedis panics if a redis connection cannot be established
func RequireRedis() {
	redisutil.RequireRedis()
}
