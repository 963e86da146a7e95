package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

var validate = validator.New()

// defaultLookback applies when from is omitted.
const defaultLookback = 7 * 24 * time.Hour

// Cache stores encoded summary responses. Implementations drop entries when new data lands.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. cache may be nil.
func RegisterRoutes(app *fiber.App, service *mix.Service, cache Cache) {
	h := &handlers{service: service, cache: cache, now: time.Now}

	v1 := app.Group("/api/v1")
	v1.Get("/mix", h.getRange)
	v1.Get("/mix/summary", h.getSummary)
	v1.Get("/mix/latest", h.getLatest)
	v1.Get("/ingest/runs", h.getRuns)
	v1.Post("/ingest", h.postIngest)
}

type handlers struct {
	service *mix.Service
	cache   Cache
	now     func() time.Time
}

func (h *handlers) getRange(c *fiber.Ctx) error {
	var req rangeQuery
	if err := req.bind(c, h.now()); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	records, err := h.service.Range(c.UserContext(), req.From, req.To)
	if err != nil {
		return toFiberError(err, "no generation-mix data for requested range")
	}

	return c.JSON(fiber.Map{
		"from":    req.From,
		"to":      req.To,
		"records": records,
	})
}

func (h *handlers) getSummary(c *fiber.Ctx) error {
	var req rangeQuery
	if err := req.bind(c, h.now()); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	key := "summary:" + req.From.Format(mix.TimeLayout) + ":" + req.To.Format(mix.TimeLayout)
	if h.cache != nil {
		if body, ok := h.cache.Get(c.UserContext(), key); ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(body)
		}
	}

	summary, err := h.service.Summary(c.UserContext(), req.From, req.To)
	if err != nil {
		return toFiberError(err, "no generation-mix data for requested range")
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to encode summary")
	}
	if h.cache != nil {
		h.cache.Set(c.UserContext(), key, body)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

func (h *handlers) getLatest(c *fiber.Ctx) error {
	rec, err := h.service.Latest(c.UserContext())
	if err != nil {
		return toFiberError(err, "no generation-mix data yet; run an ingestion first")
	}
	return c.JSON(rec)
}

func (h *handlers) getRuns(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"runs": h.service.Runs(),
	})
}

func (h *handlers) postIngest(c *fiber.Ctx) error {
	report, err := h.service.Ingest(c.UserContext(), h.now())
	if err != nil {
		var ae *mix.AdapterError
		status := fiber.StatusInternalServerError
		if errors.As(err, &ae) {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
			"run":     report,
		})
	}
	return c.JSON(report)
}

func toFiberError(err error, notFoundMsg string) error {
	var se *mix.StoreError
	switch {
	case errors.Is(err, mix.ErrNoData):
		return fiber.NewError(fiber.StatusNotFound, notFoundMsg)
	case errors.As(err, &se):
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read generation-mix data")
	default:
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
}

// rangeQuery holds the from/to query parameters. Both default from the current time.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx, now time.Time) error {
	r.To = now.UTC()
	r.From = r.To.Add(-defaultLookback)

	if s := c.Query("from"); s != "" {
		from, err := parseTime(s, false)
		if err != nil {
			return err
		}
		r.From = from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s, true)
		if err != nil {
			return err
		}
		r.To = to
	}

	return validate.Struct(r)
}

// parseTime accepts RFC3339, a bare date, or Unix seconds. A bare date used as an
// upper bound covers the whole UTC day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			return d.Add(24*time.Hour - time.Second), nil
		}
		return d, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
