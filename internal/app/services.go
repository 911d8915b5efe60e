package app

import (
	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/extcall"
	"github.com/luminaux/lumina-backend/internal/frames"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/memory"
	"github.com/luminaux/lumina-backend/internal/pipeline"
	"github.com/luminaux/lumina-backend/internal/sse"
)

type Services struct {
	Memories     memory.Store
	Frames       frames.Extractor
	Publisher    pipeline.Publisher
	Orchestrator *pipeline.Orchestrator
}

func wireServices(log *logger.Logger, cfg config.Config, repos Repos, clients Clients, hub *sse.Hub) (Services, error) {
	var out Services
	var err error

	if out.Memories, err = memory.New(log, repos.Memories); err != nil {
		return out, err
	}
	if out.Frames, err = frames.NewExtractor(log, cfg.WorkDir); err != nil {
		return out, err
	}

	caller := extcall.New(log, cfg.Retry, cfg.ServiceCaps)
	out.Publisher = pipeline.NewDashboardPublisher(log, hub, clients.Bus)

	detector := pipeline.NewDetector(log, cfg, clients.Prosody, caller)
	enricher := pipeline.NewEnricher(log, out.Frames, clients.Vision, caller)
	reflector := pipeline.NewReflector(log, cfg, out.Memories, clients.Reasoning, caller)
	curator := pipeline.NewCurator(log, repos.Cards, out.Publisher)
	fanout := pipeline.NewFanout(log, clients.Research, clients.Mockup, out.Memories, repos.Cards, caller, out.Publisher)
	summarizer := pipeline.NewSummarizer(log, out.Memories)

	out.Orchestrator = pipeline.NewOrchestrator(log, cfg,
		detector, enricher, reflector, curator, fanout, summarizer, out.Publisher)
	return out, nil
}
