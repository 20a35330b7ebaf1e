package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// createIntentRequest mirrors §6 `POST /intents`'s body.
type createIntentRequest struct {
	AmountSats       int64  `json:"amountSats"`
	Email            string `json:"email,omitempty"`
	CustomerID       string `json:"customerId,omitempty"`
	Memo             string `json:"memo,omitempty"`
	ExpiresInMinutes int    `json:"expiresInMinutes,omitempty"`
	RequiredConfs    int    `json:"requiredConfs,omitempty"`
}

func (s *Server) postIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, wrapBindErr(err))
		return
	}

	in, err := s.gateway.CreateIntent(c.Request.Context(), types.CreateIntentParams{
		AmountSats: req.AmountSats, Email: req.Email, CustomerID: req.CustomerID,
		Memo: req.Memo, ExpiresInMinutes: req.ExpiresInMinutes, RequiredConfs: req.RequiredConfs,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (s *Server) getIntent(c *gin.Context) {
	in, err := s.store.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// magicLinkRequest mirrors §6 `POST /intents/:id/magic-link`'s body.
type magicLinkRequest struct {
	TTLHours int64 `json:"ttlHours,omitempty"`
}

func (s *Server) postMagicLink(c *gin.Context) {
	var req magicLinkRequest
	// An empty body is valid (defaults to 24h); only reject malformed JSON.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, wrapBindErr(err))
			return
		}
	}

	ttlSeconds := req.TTLHours * 3600
	issued, err := s.gateway.IssueToken(c.Request.Context(), types.IssueTokenParams{
		IntentID: c.Param("id"), TTLSeconds: ttlSeconds,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, issued)
}

// payView is the §6 `GET /pay/:token` response shape: the redeemed
// intent's id plus its (possibly freshly derived) assigned address.
type payView struct {
	IntentID   string            `json:"intentId"`
	Address    string            `json:"address"`
	BIP21      string            `json:"bip21"`
	AmountSats int64             `json:"amountSats"`
	ExpiresAt  string            `json:"expiresAt"`
	Status     types.IntentStatus `json:"status"`
}

func (s *Server) getPay(c *gin.Context) {
	ctx := c.Request.Context()
	redeemed, err := s.gateway.RedeemToken(ctx, c.Param("token"))
	if err != nil {
		respondErr(c, err)
		return
	}

	assigned, err := s.gateway.EnsureAssigned(ctx, redeemed.IntentID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, payView{
		IntentID: redeemed.IntentID, Address: assigned.Address, BIP21: assigned.BIP21,
		AmountSats: assigned.AmountSats, ExpiresAt: assigned.ExpiresAt.Format(rfc3339Milli), Status: assigned.Status,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	intentID := c.Query("intentId")
	if intentID == "" {
		respondErr(c, wrapBindErr(errMissingIntentID))
		return
	}

	view, err := s.gateway.GetStatus(c.Request.Context(), intentID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) postScan(c *gin.Context) {
	if err := s.gateway.ScanForPayments(c.Request.Context(), c.Param("intentId")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
