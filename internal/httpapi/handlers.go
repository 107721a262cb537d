package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tgbroadcast/internal/account"
	"tgbroadcast/internal/broadcast"
	"tgbroadcast/internal/campaign"
	"tgbroadcast/internal/entitlement"
	logx "tgbroadcast/pkg/logx"
)

// accountView never carries the session credential.
type accountView struct {
	ID          int64      `json:"id"`
	Phone       string     `json:"phone,omitempty"`
	Authorized  bool       `json:"authorized"`
	Recipients  int        `json:"recipients"`
	MessageLen  int        `json:"message_len"`
	Hours       float64    `json:"hours"`
	Delay       float64    `json:"delay_minutes"`
	Entitled    bool       `json:"entitled"`
	Entitlement string     `json:"entitlement"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func viewOf(a account.Account) accountView {
	st := account.SettingsOf(a)
	return accountView{
		ID:          a.ID,
		Phone:       a.Phone,
		Authorized:  a.HasCredential(),
		Recipients:  len(a.Recipients),
		MessageLen:  len([]rune(a.Message)),
		Hours:       st.Hours,
		Delay:       st.DelayMinutes,
		Entitled:    a.Entitlement.Active,
		Entitlement: broadcast.DescribeEntitlement(a.Entitlement),
		ExpiresAt:   a.Entitlement.ExpiresAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.deps.Broadcast.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) accounts(c *gin.Context) {
	list, err := s.deps.Broadcast.Accounts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]accountView, 0, len(list))
	for _, a := range list {
		out = append(out, viewOf(a))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) campaigns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"campaigns": s.deps.Broadcast.ActiveCampaigns()})
}

func (s *Server) notices(c *gin.Context) {
	if s.deps.Notices == nil {
		c.JSON(http.StatusOK, gin.H{"notices": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": s.deps.Notices.History()})
}

type grantRequest struct {
	// Days of access; 0 means forever.
	Days *int `json:"days" binding:"required,gte=0,lte=3650"`
}

func (s *Server) grant(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 0 (forever) and 3650"})
		return
	}
	a, err := s.deps.Broadcast.Grant(c.Request.Context(), id, *req.Days)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("entitlement granted via api", logx.Int64("account_id", id), logx.String("operator", c.GetString(subjectKey)))
	c.JSON(http.StatusOK, viewOf(a))
}

func (s *Server) revoke(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	a, err := s.deps.Broadcast.Revoke(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("entitlement revoked via api", logx.Int64("account_id", id), logx.String("operator", c.GetString(subjectKey)))
	c.JSON(http.StatusOK, viewOf(a))
}

func (s *Server) stop(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := s.deps.Broadcast.RequestStop(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return 0, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entitlement.ErrAccountNotFound), errors.Is(err, account.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, campaign.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.Error("http api call failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
