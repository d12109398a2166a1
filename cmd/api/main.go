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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	dbconf "github.com/kthomas/go-db-config"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/common"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/gate"
	"github.com/verdantgrid/carbonledger/ledger"
	"github.com/verdantgrid/carbonledger/marketplace"
	"github.com/verdantgrid/carbonledger/registry"
	"github.com/verdantgrid/carbonledger/registry/providers"
)

const defaultListenPort = "8080"
const shutdownTimeout = time.Second * 10

func main() {
	common.Log.Debug("installing carbonledger API")

	verifier := requireGate()
	reg := requireRegistry()

	var publisher ledger.Publisher
	if os.Getenv("NATS_URL") != "" || os.Getenv("NATS_JETSTREAM_URL") != "" {
		publisher = ledger.NewNATSPublisher()
	}

	credits, store := requireStores()

	ldgr := ledger.NewLedger(credits, reg, verifier, publisher)
	mrktplc := marketplace.NewMarketplace(store, credits, requirePaymentProvider(), publisher)

	ledger.RequireLedgerConsumers(ldgr)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", statusHandler)
	ledger.InstallLedgerAPI(r, ldgr)
	marketplace.InstallMarketplaceAPI(r, mrktplc)

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: r,
	}

	go func() {
		common.Log.Infof("carbonledger API listening on %s", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to serve carbonledger API; %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	common.Log.Infof("received signal: %s; shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		common.Log.Warningf("failed to gracefully shut down carbonledger API; %s", err.Error())
	}

	common.Log.Debug("exiting carbonledger API")
}

func listenAddr() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultListenPort
	}
	return fmt.Sprintf("0.0.0.0:%s", port)
}

func statusHandler(c *gin.Context) {
	provide.Render(nil, 204, c)
}

// requireGate configures the verifier gate with the verification key
// artifacts named by the environment; a circuit without a configured key
// fails closed at verification time
func requireGate() *gate.Gate {
	g := gate.NewGate()

	requireVerifyingKey(g, gate.CircuitKindIssuance, "ISSUANCE_VERIFYING_KEY_PATH")
	requireVerifyingKey(g, gate.CircuitKindTransfer, "TRANSFER_VERIFYING_KEY_PATH")

	return g
}

func requireVerifyingKey(g *gate.Gate, kind gate.CircuitKind, envVar string) {
	path := os.Getenv(envVar)
	if path == "" {
		common.Log.Warningf("%s not set; %s proofs will be rejected", envVar, kind)
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		common.Log.Panicf("failed to read verification key at %s; %s", path, err.Error())
	}

	err = g.RequireVerifyingKey(kind, raw)
	if err != nil {
		common.Log.Panicf("failed to configure %s verification key; %s", kind, err.Error())
	}
}

func databaseConfigured() bool {
	return os.Getenv("DATABASE_HOST") != ""
}

// requireRegistry initializes the commitment registry and nullifier set;
// dense tree for commitments, sparse tree for nullifiers
func requireRegistry() *registry.Registry {
	curve := common.StringOrNil("bn254")

	if !databaseConfigured() {
		common.Log.Warning("DATABASE_HOST not set; commitment and nullifier state will be ephemeral")
		commitmentStoreID, _ := uuid.NewV4()
		nullifierStoreID, _ := uuid.NewV4()
		return registry.NewRegistry(
			providers.InitEphemeralDenseMerkleTreeStoreProvider(commitmentStoreID, curve),
			providers.InitEphemeralSparseMerkleTreeStoreProvider(nullifierStoreID, curve),
		)
	}

	commitments := requireStoreProvider("COMMITMENT_STORE_ID", "carbon credit commitments", providers.StoreProviderDenseMerkleTree, curve)
	nullifiers := requireStoreProvider("NULLIFIER_STORE_ID", "carbon credit nullifiers", providers.StoreProviderSparseMerkleTree, curve)

	return registry.NewRegistry(commitments, nullifiers)
}

func requireStoreProvider(envVar, name, providerType string, curve *string) providers.StoreProvider {
	if id := os.Getenv(envVar); id != "" {
		storeID, err := uuid.FromString(id)
		if err != nil {
			common.Log.Panicf("failed to parse %s; %s", envVar, err.Error())
		}

		store := registry.Find(storeID)
		if store == nil {
			common.Log.Panicf("failed to resolve store: %s", storeID)
		}

		return store.ProviderFactory()
	}

	store := &registry.Store{
		Name:     common.StringOrNil(name),
		Provider: common.StringOrNil(providerType),
		Curve:    curve,
	}

	if !store.Create() {
		common.Log.Panicf("failed to initialize %s store", providerType)
	}

	common.Log.Infof("initialized %s store: %s; set %s to reuse it", providerType, store.ID, envVar)
	return store.ProviderFactory()
}

func requireStores() (ledger.CreditStore, marketplace.Store) {
	if !databaseConfigured() {
		common.Log.Warning("DATABASE_HOST not set; credit and listing state will be ephemeral")
		credits := ledger.InitInMemoryCreditStore()
		return credits, marketplace.InitInMemoryStore(credits)
	}

	db := dbconf.DatabaseConnection()
	return ledger.InitDatabaseCreditStore(db), marketplace.InitDatabaseStore(db)
}

func requirePaymentProvider() marketplace.PaymentProvider {
	// the only rail wired in-tree; swap via source until a provider registry exists
	return &marketplace.AutoApprovePaymentProvider{}
}
