package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Simulator stands in for the Gupshup WhatsApp, Gupshup Enterprise SMS and
// Resend APIs during local development and load testing. It accepts the same
// requests the real gateways receive, answers in their wire formats, and can
// post delivery callbacks to the application's webhook endpoint.
type Simulator struct {
	deliveryRate  float64
	sessionRate   float64
	minDelay      time.Duration
	maxDelay      time.Duration
	webhookURL    string
	webhookSecret string
	rng           *rand.Rand
	client        *http.Client
}

func NewSimulator(deliveryRate, sessionRate float64, minDelay, maxDelay time.Duration, webhookURL, webhookSecret string) *Simulator {
	return &Simulator{
		deliveryRate:  deliveryRate,
		sessionRate:   sessionRate,
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		webhookURL:    webhookURL,
		webhookSecret: webhookSecret,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Simulator) randomDelay() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rng.Int63n(int64(s.maxDelay-s.minDelay)))
}

func (s *Simulator) shouldDeliver() bool {
	return s.rng.Float64() < s.deliveryRate
}

// sessionOpen reports whether the simulated recipient still has an open
// 24h service window.
func (s *Simulator) sessionOpen() bool {
	return s.rng.Float64() < s.sessionRate
}

func (s *Simulator) randomFailure() (int, string) {
	failures := []struct {
		code   int
		reason string
	}{
		{1002, "number does not exist on whatsapp"},
		{1008, "user has not opted in"},
		{131049, "per-user marketing limit reached"},
		{131026, "message undeliverable"},
	}
	f := failures[s.rng.Intn(len(failures))]
	return f.code, f.reason
}

// emitCallback posts a message-event envelope to the application webhook
// after a simulated network delay.
func (s *Simulator) emitCallback(messageID string) {
	if s.webhookURL == "" {
		return
	}

	delay := s.randomDelay()
	time.Sleep(delay)

	payload := map[string]interface{}{
		"type": "delivered",
		"gsId": messageID,
	}
	if !s.shouldDeliver() {
		code, reason := s.randomFailure()
		payload = map[string]interface{}{
			"type": "failed",
			"gsId": messageID,
			"payload": map[string]interface{}{
				"code":   code,
				"reason": reason,
			},
		}
	}

	body, err := json.Marshal(map[string]interface{}{
		"type":    "message-event",
		"payload": payload,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", s.webhookSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("callback post failed")
		return
	}
	defer resp.Body.Close()

	log.Info().
		Str("message_id", messageID).
		Str("event", fmt.Sprint(payload["type"])).
		Dur("delay", delay).
		Int("status", resp.StatusCode).
		Msg("delivery callback posted")
}

type Handler struct {
	sim *Simulator
}

func NewHandler(sim *Simulator) *Handler {
	return &Handler{sim: sim}
}

// SendTemplate simulates POST /wa/api/v1/template/msg.
func (h *Handler) SendTemplate(c *gin.Context) {
	destination := c.PostForm("destination")
	template := c.PostForm("template")

	if destination == "" || template == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "destination and template are required",
		})
		return
	}

	messageID := uuid.New().String()
	log.Info().
		Str("message_id", messageID).
		Str("destination", destination).
		Msg("template message accepted")

	go h.sim.emitCallback(messageID)

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "submitted",
		"messageId": messageID,
	})
}

// SendSession simulates POST /wa/api/v1/msg. A closed service window is a
// body-level error on a 2xx response, matching the real API.
func (h *Handler) SendSession(c *gin.Context) {
	destination := c.PostForm("destination")
	if destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "destination is required",
		})
		return
	}

	if !h.sim.sessionOpen() {
		log.Info().Str("destination", destination).Msg("session window closed")
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "error",
			"message": "message outside the 24hr session window",
		})
		return
	}

	messageID := uuid.New().String()
	log.Info().
		Str("message_id", messageID).
		Str("destination", destination).
		Msg("session message accepted")

	go h.sim.emitCallback(messageID)

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "submitted",
		"messageId": messageID,
	})
}

// SendSMS simulates POST /GatewayAPI/rest, which answers with a
// pipe-separated text line.
func (h *Handler) SendSMS(c *gin.Context) {
	phone := c.PostForm("phone_no")
	if phone == "" {
		c.String(http.StatusOK, "error | 101 | phone_no is required")
		return
	}

	if !h.sim.shouldDeliver() {
		log.Warn().Str("phone", phone).Msg("sms rejected")
		c.String(http.StatusOK, "error | 175 | temporarily blocked for this number")
		return
	}

	messageID := h.sim.rng.Int63()
	log.Info().Str("phone", phone).Int64("message_id", messageID).Msg("sms accepted")
	c.String(http.StatusOK, "success | %s | %d", phone, messageID)
}

// SendEmail simulates the Resend POST /emails endpoint.
func (h *Handler) SendEmail(c *gin.Context) {
	var req struct {
		From    string   `json:"from"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.To) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"name":    "validation_error",
			"message": "to is required",
		})
		return
	}

	id := uuid.New().String()
	log.Info().
		Str("id", id).
		Str("to", req.To[0]).
		Str("subject", req.Subject).
		Msg("email accepted")

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// HealthCheck reports simulator status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"delivery_rate": h.sim.deliveryRate,
		"session_rate":  h.sim.sessionRate,
		"timestamp":     time.Now(),
	})
}

// UpdateConfig changes failure injection rates at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req struct {
		DeliveryRate *float64 `json:"delivery_rate"`
		SessionRate  *float64 `json:"session_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if req.DeliveryRate != nil && *req.DeliveryRate >= 0 && *req.DeliveryRate <= 1.0 {
		h.sim.deliveryRate = *req.DeliveryRate
		log.Info().Float64("rate", *req.DeliveryRate).Msg("updated delivery rate")
	}
	if req.SessionRate != nil && *req.SessionRate >= 0 && *req.SessionRate <= 1.0 {
		h.sim.sessionRate = *req.SessionRate
		log.Info().Float64("rate", *req.SessionRate).Msg("updated session rate")
	}

	c.JSON(http.StatusOK, gin.H{
		"delivery_rate": h.sim.deliveryRate,
		"session_rate":  h.sim.sessionRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.POST("/wa/api/v1/template/msg", handler.SendTemplate)
	router.POST("/wa/api/v1/msg", handler.SendSession)
	router.POST("/GatewayAPI/rest", handler.SendSMS)
	router.POST("/emails", handler.SendEmail)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 0.95)
	sessionRate := getEnvFloat("SESSION_RATE", 0.5)
	minDelay := getEnvDuration("MIN_DELAY", 500*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 5*time.Second)
	webhookURL := getEnv("WEBHOOK_URL", "")
	webhookSecret := getEnv("WEBHOOK_SECRET", "")

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Float64("session_rate", sessionRate).
		Str("webhook_url", webhookURL).
		Msg("Starting provider simulator")

	sim := NewSimulator(deliveryRate, sessionRate, minDelay, maxDelay, webhookURL, webhookSecret)
	handler := NewHandler(sim)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
