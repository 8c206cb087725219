package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/config"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	"github.com/zhouzirui/gyn-intake/backend/internal/service/ai"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	screeningService "github.com/zhouzirui/gyn-intake/backend/internal/service/screening"
	"github.com/zhouzirui/gyn-intake/backend/internal/service/session"
)

// App holds the wired services shared by the server and the CLI.
type App struct {
	Config    *config.Config
	Protocols protocol.Store
	Sessions  *session.Store
	Workflow  *intakeService.Workflow
	// ModelReady is false when no chat model could be built; turns then fail
	// with ErrModelUnavailable.
	ModelReady bool
}

// SetVerbosity applies the configured log level to klog. klog flags must be
// registered on fs beforehand.
func SetVerbosity(fs *flag.FlagSet, cfg config.LogConfig) {
	if f := fs.Lookup("v"); f != nil && f.Value.String() == "0" {
		_ = f.Value.Set(strconv.Itoa(cfg.Verbosity()))
	}
}

// Build wires storage, the protocol catalog, the model advisor and the
// controller.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	protocols := protocol.NewMemoryStore(catalog)
	store := session.NewStore(session.Config{Dir: cfg.Storage.Dir, Overwrite: cfg.Storage.Overwrite})
	klog.Infof("[app] sessions stored in %s, protocols=%d", store.Dir(), len(catalog))

	var advisor intakeService.Advisor
	ready := false
	if cfg.Model.Enabled() {
		aiSvc, err := buildAdvisor(ctx, cfg, protocols)
		if err != nil {
			klog.Warningf("[app] failed to initialize AI service: %v", err)
		} else {
			advisor = aiSvc
			ready = true
			klog.Infof("[app] AI service initialized provider=%s", cfg.Model.Provider)
		}
	} else {
		klog.Warningf("[app] model provider %s is not configured, intake turns will be unavailable", cfg.Model.Provider)
	}
	if advisor == nil {
		advisor = offlineAdvisor{}
	}

	ctrl := intakeService.NewController(advisor, protocols, intakeService.Config{HistoryWindow: cfg.Model.HistoryWindow})
	return &App{
		Config:     cfg,
		Protocols:  protocols,
		Sessions:   store,
		Workflow:   intakeService.NewWorkflow(store, ctrl),
		ModelReady: ready,
	}, nil
}

func buildAdvisor(ctx context.Context, cfg *config.Config, protocols protocol.Store) (*ai.Service, error) {
	screener, err := buildScreener(ctx, cfg, protocols)
	if err != nil {
		return nil, err
	}
	return ai.NewService(ctx, protocols, cfg.Model.NewChatModel, screener, ai.Config{Timeout: cfg.Model.Timeout})
}

// buildScreener reuses the default protocol's model for the classifier.
func buildScreener(ctx context.Context, cfg *config.Config, protocols protocol.Store) (*screeningService.Service, error) {
	screeningCfg := screeningService.Config{
		Enabled:      cfg.Screening.LLMEnabled,
		HistoryLimit: cfg.Screening.HistoryLimit,
	}

	var chatModel model.BaseChatModel
	if screeningCfg.Enabled {
		m, err := cfg.Model.NewChatModel(ctx, protocols.Default())
		if err != nil {
			klog.Warningf("[app] screening model unavailable, falling back to heuristics: %v", err)
		} else {
			chatModel = m
		}
	}

	svc, err := screeningService.NewService(ctx, chatModel, screeningCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize screening: %w", err)
	}
	if svc.Enabled() {
		klog.Infof("[app] screening classifier enabled")
	} else {
		klog.V(1).Infof("[app] screening uses keyword heuristics")
	}
	return svc, nil
}

// offlineAdvisor stands in when no model is configured.
type offlineAdvisor struct{}

func (offlineAdvisor) Open(context.Context, intakeService.OpeningRequest) (string, error) {
	return "", fmt.Errorf("%w: no chat model configured", intake.ErrModelUnavailable)
}

func (offlineAdvisor) Advise(context.Context, intakeService.AdviceRequest) (intakeService.Advice, error) {
	return intakeService.Advice{}, fmt.Errorf("%w: no chat model configured", intake.ErrModelUnavailable)
}
