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

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/gate"
	"github.com/verdantgrid/carbonledger/registry"
)

const defaultNatsStream = "carbon"

const natsMintPendingSubject = "carbon.credit.mint.pending"
const natsMintFailedSubject = "carbon.credit.mint.failed"
const natsMintPendingMaxInFlight = 32
const mintAckWait = time.Minute * 5
const mintMaxDeliveries = 5
const mintVerificationTimeout = time.Second * 30

var (
	consumerLedger     *Ledger
	consumerLedgerOnce sync.Once
)

// RequireLedgerConsumers establishes the NATS JetStream subscriptions for
// async mint processing; no-op unless streaming subscription consumption has
// been enabled by the environment
func RequireLedgerConsumers(l *Ledger) {
	if !common.ConsumeNATSStreamingSubscriptions {
		common.Log.Debug("ledger package consumer configured to skip NATS streaming subscription setup")
		return
	}

	consumerLedgerOnce.Do(func() {
		consumerLedger = l

		natsutil.EstablishSharedNatsConnection(nil)
		natsutil.NatsCreateStream(defaultNatsStream, []string{
			fmt.Sprintf("%s.>", defaultNatsStream),
		})

		var waitGroup sync.WaitGroup

		createNatsMintSubscriptions(&waitGroup)
	})
}

func createNatsMintSubscriptions(wg *sync.WaitGroup) {
	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			mintAckWait,
			natsMintPendingSubject,
			natsMintPendingSubject,
			natsMintPendingSubject,
			consumeMintMsg,
			mintAckWait,
			natsMintPendingMaxInFlight,
			mintMaxDeliveries,
			nil,
		)
	}
}

func consumeMintMsg(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during async mint; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS mint message on subject: %s", len(msg.Data), msg.Subject)

	params := &MintParams{}
	err := json.Unmarshal(msg.Data, &params)
	if err != nil {
		common.Log.Warningf("failed to unmarshal mint message; %s", err.Error())
		msg.Nak()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mintVerificationTimeout)
	defer cancel()

	creditID, err := consumerLedger.Mint(ctx, params)
	if err != nil {
		if mintFailureTerminal(err) {
			// redelivery can never succeed for a rejected or replayed
			// proof; ack and emit the failure
			common.Log.Warningf("rejected async mint; %s", err.Error())
			natsutil.NatsJetstreamPublish(natsMintFailedSubject, mintFailurePayload(params, err))
			msg.Ack()
			return
		}

		common.Log.Warningf("failed to process async mint; %s", err.Error())
		msg.Nak()
		return
	}

	common.Log.Debugf("minted carbon credit %s via async mint consumer", creditID)
	msg.Ack()
}

// mintFailureTerminal returns true when redelivering the message cannot
// change the outcome
func mintFailureTerminal(err error) bool {
	return errors.Is(err, gate.ErrProofInvalid) ||
		errors.Is(err, gate.ErrVerifyingKeyMismatch) ||
		errors.Is(err, registry.ErrCommitmentExists) ||
		errors.Is(err, ErrInconsistentCarbonFactor)
}

func mintFailurePayload(params *MintParams, err error) []byte {
	failure := map[string]interface{}{
		"owner": params.Owner,
		"error": err.Error(),
	}
	if code := common.ErrorCode(err); code != nil {
		failure["code"] = *code
	}
	payload, _ := json.Marshal(failure)
	return payload
}
