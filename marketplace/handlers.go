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

package marketplace

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/common"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/ledger"
)

// InstallMarketplaceAPI installs the marketplace API handlers
func InstallMarketplaceAPI(r *gin.Engine, m *Marketplace) {
	r.POST("/api/v1/listings", createListingHandler(m))
	r.GET("/api/v1/listings/:id", listingDetailsHandler(m))
	r.DELETE("/api/v1/listings/:id", cancelListingHandler(m))
	r.POST("/api/v1/listings/:id/purchase", purchaseHandler(m))
}

func createListingHandler(m *Marketplace) gin.HandlerFunc {
	return func(c *gin.Context) {
		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &ListingParams{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		listingID, err := m.CreateListing(c.Request.Context(), params)
		if err != nil {
			renderMarketplaceError(err, c)
			return
		}

		provide.Render(map[string]interface{}{
			"listing_id": listingID.String(),
		}, 201, c)
	}
}

func listingDetailsHandler(m *Marketplace) gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, err := uuid.FromString(c.Param("id"))
		if err != nil {
			provide.RenderError("invalid listing id", 400, c)
			return
		}

		listing, err := m.FindListing(listingID)
		if err != nil {
			renderMarketplaceError(err, c)
			return
		}

		provide.Render(listing, 200, c)
	}
}

type cancelListingRequest struct {
	Requester string `json:"requester"`
}

func cancelListingHandler(m *Marketplace) gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, err := uuid.FromString(c.Param("id"))
		if err != nil {
			provide.RenderError("invalid listing id", 400, c)
			return
		}

		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &cancelListingRequest{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		err = m.CancelListing(c.Request.Context(), listingID, params.Requester)
		if err != nil {
			renderMarketplaceError(err, c)
			return
		}

		provide.Render(nil, 204, c)
	}
}

func purchaseHandler(m *Marketplace) gin.HandlerFunc {
	return func(c *gin.Context) {
		listingID, err := uuid.FromString(c.Param("id"))
		if err != nil {
			provide.RenderError("invalid listing id", 400, c)
			return
		}

		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		params := &PurchaseParams{}
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}
		params.ListingID = listingID

		settlementID, err := m.Purchase(c.Request.Context(), params)
		if err != nil {
			renderMarketplaceError(err, c)
			return
		}

		provide.Render(map[string]interface{}{
			"settlement_id": settlementID.String(),
		}, 201, c)
	}
}

func renderMarketplaceError(err error, c *gin.Context) {
	status := 422

	switch {
	case errors.Is(err, ErrListingNotFound), errors.Is(err, ledger.ErrCreditNotFound):
		status = 404
	case errors.Is(err, ErrNotSeller), errors.Is(err, ledger.ErrNotOwner):
		status = 403
	case errors.Is(err, ErrListingNotActive), errors.Is(err, ErrListingExists),
		errors.Is(err, ledger.ErrCreditListed), errors.Is(err, ledger.ErrAlreadyRetired):
		status = 409
	case errors.Is(err, ErrInsufficientPayment):
		status = 402
	case errors.Is(err, ErrPaymentFailed):
		status = 502
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
