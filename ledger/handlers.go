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
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/common"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/gate"
	"github.com/verdantgrid/carbonledger/registry"
)

// InstallLedgerAPI installs the carbon credit ledger API handlers
func InstallLedgerAPI(r *gin.Engine, l *Ledger) {
	r.POST("/api/v1/credits", mintCreditHandler(l))
	r.GET("/api/v1/credits", listCreditsHandler(l))
	r.GET("/api/v1/credits/:id", creditDetailsHandler(l))
	r.POST("/api/v1/credits/:id/transfers", transferCreditHandler(l))
	r.POST("/api/v1/credits/:id/retire", retireCreditHandler(l))
	r.POST("/api/v1/transfers", privateTransferHandler(l))
	r.GET("/api/v1/registry/root", registryRootHandler(l))
	r.GET("/api/v1/registry/state", registryStateHandler(l))
}

func mintCreditHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &MintParams{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		creditID, err := l.Mint(c.Request.Context(), params)
		if err != nil {
			renderLedgerError(err, c)
			return
		}

		provide.Render(map[string]interface{}{
			"credit_id": creditID.String(),
		}, 201, c)
	}
}

func listCreditsHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var owner *string
		if c.Query("owner") != "" {
			owner = common.StringOrNil(c.Query("owner"))
		}

		credits, err := l.ListCredits(owner)
		if err != nil {
			renderLedgerError(err, c)
			return
		}

		provide.Render(credits, 200, c)
	}
}

func creditDetailsHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		creditID, err := uuid.FromString(c.Param("id"))
		if err != nil {
			provide.RenderError("invalid credit id", 400, c)
			return
		}

		credit, err := l.FindCredit(creditID)
		if err != nil {
			renderLedgerError(err, c)
			return
		}

		provide.Render(credit, 200, c)
	}
}

type transferCreditRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func transferCreditHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		creditID, err := uuid.FromString(c.Param("id"))
		if err != nil {
			provide.RenderError("invalid credit id", 400, c)
			return
		}

		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &transferCreditRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		err = l.TransferPublic(c.Request.Context(), creditID, params.From, params.To)
		if err != nil {
			renderLedgerError(err, c)
			return
		}

		provide.Render(nil, 204, c)
	}
}

type retireCreditRequest struct {
	Requester string  `json:"requester"`
	Reason    *string `json:"reason,omitempty"`
}

func retireCreditHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		creditID, err := uuid.FromString(c.Param("id"))
		if err != nil {
			provide.RenderError("invalid credit id", 400, c)
			return
		}

		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &retireCreditRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		err = l.Retire(c.Request.Context(), creditID, params.Requester, params.Reason)
		if err != nil {
			renderLedgerError(err, c)
			return
		}

		provide.Render(nil, 204, c)
	}
}

func privateTransferHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &PrivateTransferParams{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		err = l.TransferPrivate(c.Request.Context(), params)
		if err != nil {
			renderLedgerError(err, c)
			return
		}

		provide.Render(nil, 202, c)
	}
}

func registryRootHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		root, err := l.registry.CommitmentRoot()
		if err != nil {
			provide.RenderError(err.Error(), 500, c)
			return
		}

		provide.Render(map[string]interface{}{
			"root": root,
		}, 200, c)
	}
}

func registryStateHandler(l *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var epoch uint64
		if c.Query("epoch") != "" {
			parsed, err := strconv.ParseUint(c.Query("epoch"), 10, 64)
			if err != nil {
				provide.RenderError("invalid epoch", 400, c)
				return
			}
			epoch = parsed
		}

		commitmentState, nullifierState, err := l.RegistryStateAt(epoch)
		if err != nil {
			provide.RenderError(err.Error(), 500, c)
			return
		}

		provide.Render(map[string]interface{}{
			"commitments": commitmentState,
			"nullifiers":  nullifierState,
		}, 200, c)
	}
}

// renderLedgerError maps the domain error taxonomy onto HTTP statuses; coded
// errors carry their code in the response body
func renderLedgerError(err error, c *gin.Context) {
	status := 422

	switch {
	case errors.Is(err, ErrCreditNotFound), errors.Is(err, ErrUnknownCommitment):
		status = 404
	case errors.Is(err, ErrNotOwner):
		status = 403
	case errors.Is(err, ErrAlreadyRetired), errors.Is(err, ErrCreditListed),
		errors.Is(err, registry.ErrNullifierReused), errors.Is(err, registry.ErrCommitmentExists),
		errors.Is(err, ErrStaleRoot):
		status = 409
	case errors.Is(err, gate.ErrProofInvalid), errors.Is(err, gate.ErrVerifyingKeyMismatch):
		status = 422
	case errors.Is(err, common.ErrTimeout):
		status = 408
	}

	if code := common.ErrorCode(err); code != nil {
		c.JSON(status, map[string]interface{}{
			"code":    *code,
			"message": err.Error(),
		})
		c.Abort()
		return
	}

	provide.RenderError(err.Error(), status, c)
}
