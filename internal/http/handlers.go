package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/karoocap/foliotrack/internal/apperr"
	"github.com/karoocap/foliotrack/internal/models"
	"github.com/karoocap/foliotrack/internal/repository"
	"github.com/karoocap/foliotrack/internal/service"
)

// Router wires all handlers.
func Router(svc *service.PortfolioService, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logMiddleware(logger))

	r.POST("/events", func(c *gin.Context) { handleRecordEvent(c, svc) })
	r.GET("/portfolios/:id/holdings", func(c *gin.Context) { handleHoldings(c, svc) })
	r.GET("/portfolios/:id/gains", func(c *gin.Context) { handleGains(c, svc) })
	r.GET("/portfolios/:id/income", func(c *gin.Context) { handleIncome(c, svc) })
	r.GET("/portfolios/:id/summary", func(c *gin.Context) { handleSummary(c, svc) })
	r.GET("/portfolios/:id/rules", func(c *gin.Context) { handleListRules(c, svc) })
	r.POST("/portfolios/:id/process", func(c *gin.Context) { handleProcess(c, svc) })
	r.POST("/rules", func(c *gin.Context) { handleCreateRule(c, svc) })
	r.POST("/rules/:id/pause", func(c *gin.Context) { handleRuleStatus(c, svc.PauseRule) })
	r.POST("/rules/:id/resume", func(c *gin.Context) { handleRuleStatus(c, svc.ResumeRule) })
	r.DELETE("/rules/:id", func(c *gin.Context) { handleRuleStatus(c, svc.DeleteRule) })
	return r
}

type eventRequest struct {
	PortfolioID     string     `json:"portfolioId" binding:"required"`
	ProductID       string     `json:"productId"`
	CashPoolID      string     `json:"cashPoolId"`
	Kind            string     `json:"kind" binding:"required"`
	EffectiveDate   *time.Time `json:"effectiveDate"`
	Quantity        string     `json:"quantity"`
	UnitPrice       string     `json:"unitPrice"`
	SplitRatio      string     `json:"splitRatio"`
	GrossAmount     string     `json:"grossAmount"`
	Fees            string     `json:"fees"`
	Taxes           string     `json:"taxes"`
	Currency        string     `json:"currency"`
	ExchangeRate    string     `json:"exchangeRate"`
	ForeignCurrency string     `json:"foreignCurrency"`
	ForeignAmount   string     `json:"foreignAmount"`
	Note            string     `json:"note"`
	Reference       string     `json:"reference"`
}

func handleRecordEvent(c *gin.Context, svc *service.PortfolioService) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input := service.RecordEventInput{
		PortfolioID:     req.PortfolioID,
		ProductID:       req.ProductID,
		CashPoolID:      req.CashPoolID,
		Kind:            models.EventKind(req.Kind),
		EffectiveDate:   derefTime(req.EffectiveDate),
		Currency:        req.Currency,
		ForeignCurrency: req.ForeignCurrency,
		Note:            req.Note,
		Reference:       req.Reference,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"quantity", req.Quantity, &input.Quantity},
		{"unitPrice", req.UnitPrice, &input.UnitPrice},
		{"splitRatio", req.SplitRatio, &input.SplitRatio},
		{"grossAmount", req.GrossAmount, &input.GrossAmount},
		{"fees", req.Fees, &input.Fees},
		{"taxes", req.Taxes, &input.Taxes},
		{"exchangeRate", req.ExchangeRate, &input.ExchangeRate},
		{"foreignAmount", req.ForeignAmount, &input.ForeignAmount},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		num, err := decimal.NewFromString(f.raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be a decimal string", f.name)})
			return
		}
		*f.dst = num
	}

	evt, err := svc.RecordEvent(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"eventId":       evt.ID,
		"portfolioId":   evt.PortfolioID,
		"kind":          evt.Kind,
		"effectiveDate": evt.EffectiveDate.Format("2006-01-02"),
		"netAmount":     evt.NetAmount.StringFixed(4),
	})
}

func handleHoldings(c *gin.Context, svc *service.PortfolioService) {
	cutoff, ok := parseCutoff(c)
	if !ok {
		return
	}
	snap, err := svc.Reconstruct(c.Request.Context(), c.Param("id"), cutoff)
	if err != nil {
		respondError(c, err)
		return
	}
	holdings := []gin.H{}
	for _, h := range snap.Holdings {
		holdings = append(holdings, gin.H{
			"productId": h.ProductID,
			"quantity":  h.Quantity.String(),
			"avgCost":   h.AvgCost.StringFixed(4),
			"costBasis": h.CostBasis.StringFixed(2),
			"lots":      len(h.Lots),
		})
	}
	cash := gin.H{}
	for cur, bal := range snap.Cash {
		cash[cur] = bal.StringFixed(2)
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolioId":  snap.PortfolioID,
		"holdings":     holdings,
		"cash":         cash,
		"realizedGain": snap.RealizedGain.StringFixed(2),
		"events":       snap.EventCount,
	})
}

func handleGains(c *gin.Context, svc *service.PortfolioService) {
	cutoff, ok := parseCutoff(c)
	if !ok {
		return
	}
	gain, err := svc.RealizedGains(c.Request.Context(), c.Param("id"), cutoff)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"realizedGain": gain.StringFixed(2)})
}

func handleIncome(c *gin.Context, svc *service.PortfolioService) {
	breakdown, err := svc.IncomeBreakdown(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{}
	for productID, amt := range breakdown {
		resp[productID] = amt.StringFixed(2)
	}
	c.JSON(http.StatusOK, gin.H{"income": resp})
}

func handleSummary(c *gin.Context, svc *service.PortfolioService) {
	summary, err := svc.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type ruleRequest struct {
	PortfolioID string     `json:"portfolioId" binding:"required"`
	ProductID   string     `json:"productId"`
	CashPoolID  string     `json:"cashPoolId"`
	Name        string     `json:"name" binding:"required"`
	EventKind   string     `json:"eventKind" binding:"required"`
	Method      string     `json:"method" binding:"required"`
	AmountValue string     `json:"amountValue" binding:"required"`
	TaxRate     string     `json:"taxRate"`
	Currency    string     `json:"currency"`
	Frequency   string     `json:"frequency" binding:"required"`
	CustomDays  int        `json:"customDays"`
	FirstDue    *time.Time `json:"firstDue"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	Reinvest    bool       `json:"reinvest"`
	ReinvestID  string     `json:"reinvestProductId"`
	Note        string     `json:"note"`
}

func handleCreateRule(c *gin.Context, svc *service.PortfolioService) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.AmountValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amountValue must be a decimal string"})
		return
	}
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		if taxRate, err = decimal.NewFromString(req.TaxRate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "taxRate must be a decimal string"})
			return
		}
	}
	rule, err := svc.CreateRule(c.Request.Context(), service.CreateRuleInput{
		PortfolioID: req.PortfolioID,
		ProductID:   req.ProductID,
		CashPoolID:  req.CashPoolID,
		Name:        req.Name,
		EventKind:   models.EventKind(req.EventKind),
		Method:      models.CalcMethod(req.Method),
		AmountValue: amount,
		TaxRate:     taxRate,
		Currency:    req.Currency,
		Frequency:   models.Frequency(req.Frequency),
		CustomDays:  req.CustomDays,
		FirstDue:    derefTime(req.FirstDue),
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Reinvest:    req.Reinvest,
		ReinvestID:  req.ReinvestID,
		Note:        req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"ruleId":        rule.ID,
		"nextExecution": rule.NextExecution.Format("2006-01-02"),
		"status":        rule.Status,
	})
}

func handleListRules(c *gin.Context, svc *service.PortfolioService) {
	rules, err := svc.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func handleRuleStatus(c *gin.Context, op func(ctx context.Context, id string) error) {
	if err := op(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func handleProcess(c *gin.Context, svc *service.PortfolioService) {
	asOf := time.Now().UTC()
	if raw := c.Query("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "asOf must be YYYY-MM-DD"})
			return
		}
		asOf = parsed
	}
	events, err := svc.ProcessDueRules(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	generated := []gin.H{}
	for _, e := range events {
		generated = append(generated, gin.H{
			"eventId":       e.ID,
			"kind":          e.Kind,
			"effectiveDate": e.EffectiveDate.Format("2006-01-02"),
			"netAmount":     e.NetAmount.StringFixed(4),
		})
	}
	c.JSON(http.StatusOK, gin.H{"generated": generated})
}

func parseCutoff(c *gin.Context) (*time.Time, bool) {
	raw := c.Query("cutoff")
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cutoff must be YYYY-MM-DD"})
		return nil, false
	}
	return &parsed, true
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.DataInconsistency:
		status = http.StatusUnprocessableEntity
	case apperr.MissingMarketData:
		status = http.StatusFailedDependency
	case apperr.ScheduleConflict:
		status = http.StatusConflict
	}
	if errors.Is(err, repository.ErrRuleNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func logMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"latency":  time.Since(start).String(),
			"clientIP": c.ClientIP(),
		}).Info("request completed")
	}
}
