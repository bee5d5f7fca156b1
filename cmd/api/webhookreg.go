package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voicedial-platform/internal/config"
	"voicedial-platform/internal/engine"
	"voicedial-platform/pkg/utils"
)

const (
	webhookLeaseKey = "voicedial:engine-webhook:register"
	webhookLeaseTTL = time.Minute
)

// registerEngineWebhook makes sure the engine delivers call events to this
// deployment's webhook URL. A short redis lease keeps a rolling restart from
// registering the same endpoint several times at once. Failure is logged and
// tolerated: the stale-call reaper covers missing webhooks, and the
// registration can be repeated on the next restart.
//
// The returned cleanup deregisters the webhook; it is a no-op when this
// instance did not register one.
func registerEngineWebhook(ctx context.Context, log *slog.Logger, rdb *redis.Client,
	eng engine.Client, cfg config.Config) func() {
	noop := func() {}

	holder := uuid.NewString()
	ok, err := utils.AcquireLease(ctx, rdb, webhookLeaseKey, holder, webhookLeaseTTL)
	if err != nil {
		log.Warn("engine webhook lease unavailable, skipping registration", "error", err)
		return noop
	}
	if !ok {
		log.Info("engine webhook registration held by another instance")
		return noop
	}
	defer func() {
		if err := utils.ReleaseLease(ctx, rdb, webhookLeaseKey, holder); err != nil {
			log.Warn("release engine webhook lease", "error", err)
		}
	}()

	url := cfg.Webhook.BaseURL + "/webhook/engine"
	id, err := eng.CreateWebhook(ctx, engine.CreateWebhookRequest{
		URL:    url,
		Events: []string{"call.started", "call.joined", "call.ended", "call.billed"},
		Secret: cfg.Engine.WebhookSecret,
	})
	if err != nil {
		log.Error("engine webhook registration failed", "url", url, "error", err)
		return noop
	}
	log.Info("engine webhook registered", "webhook_id", id, "url", url)

	return func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.DeleteWebhook(cleanupCtx, id); err != nil {
			log.Warn("engine webhook deregistration failed", "webhook_id", id, "error", err)
			return
		}
		log.Info("engine webhook deregistered", "webhook_id", id)
	}
}
