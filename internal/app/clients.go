package app

import (
	"github.com/luminaux/lumina-backend/internal/clients/mockup"
	"github.com/luminaux/lumina-backend/internal/clients/prosody"
	"github.com/luminaux/lumina-backend/internal/clients/reasoning"
	"github.com/luminaux/lumina-backend/internal/clients/redisbus"
	"github.com/luminaux/lumina-backend/internal/clients/research"
	"github.com/luminaux/lumina-backend/internal/clients/vision"
	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/logger"
)

type Clients struct {
	Prosody   prosody.Client
	Vision    vision.Client
	Reasoning reasoning.Client
	Research  research.Client
	Mockup    mockup.Client
	Bus       redisbus.Bus // nil when redis is not configured
}

func wireClients(log *logger.Logger, cfg config.Config) (Clients, error) {
	var out Clients
	var err error

	if out.Prosody, err = prosody.New(log, prosody.Config{
		BaseURL: cfg.Prosody.BaseURL,
		APIKey:  cfg.Prosody.APIKey,
		Timeout: cfg.Prosody.Timeout,
	}); err != nil {
		return out, err
	}
	if out.Vision, err = vision.New(log, vision.Config{
		BaseURL: cfg.Vision.BaseURL,
		APIKey:  cfg.Vision.APIKey,
		Timeout: cfg.Vision.Timeout,
	}); err != nil {
		return out, err
	}
	if out.Reasoning, err = reasoning.New(log, reasoning.Config{
		BaseURL: cfg.Reasoning.BaseURL,
		APIKey:  cfg.Reasoning.APIKey,
		Timeout: cfg.Reasoning.Timeout,
	}); err != nil {
		return out, err
	}
	if out.Research, err = research.New(log, research.Config{
		BaseURL: cfg.Research.BaseURL,
		APIKey:  cfg.Research.APIKey,
		Timeout: cfg.Research.Timeout,
	}); err != nil {
		return out, err
	}
	if out.Mockup, err = mockup.New(log, mockup.Config{
		BaseURL: cfg.Mockup.BaseURL,
		APIKey:  cfg.Mockup.APIKey,
		Timeout: cfg.Mockup.Timeout,
	}); err != nil {
		return out, err
	}

	if cfg.RedisAddr != "" {
		bus, err := redisbus.New(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			// The dashboard still works single-instance without the bus.
			log.Warn("Redis bus unavailable, running single-instance", "error", err)
		} else {
			out.Bus = bus
		}
	}
	return out, nil
}
