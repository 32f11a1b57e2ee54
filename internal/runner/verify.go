package runner

import (
	"context"

	"epitelos/internal/provider"
)

// VerifyAndLoadModels checks the given provider kind and, on success,
// refreshes the available-model list. Every failure is contained here
// and classified into the published VerificationStatus; a failed refresh
// keeps the previously loaded list so the UI is never stranded without
// choices.
func (o *Orchestrator) VerifyAndLoadModels(ctx context.Context, kind provider.Kind) {
	o.setVerification(VerificationStatus{Kind: "verifying", Message: "Verifying..."})

	cfg := o.Config()
	providerCfg, err := cfg.Providers.ByKind(string(kind))
	if err != nil {
		o.setVerification(VerificationStatus{Kind: "error", Message: err.Error()})
		return
	}

	adapter, err := o.registry.New(kind, providerCfg, o.client)
	if err != nil {
		o.setVerification(VerificationStatus{Kind: "error", Message: err.Error()})
		return
	}

	verification := adapter.Verify(ctx)
	if !verification.Success {
		o.setVerification(VerificationStatus{Kind: "error", Message: verification.Message})
		return
	}

	models, err := adapter.ListModels(ctx)
	if err != nil {
		o.setVerification(VerificationStatus{Kind: "error", Message: err.Error()})
		return
	}

	o.mu.Lock()
	o.models = models
	o.verification = &VerificationStatus{Kind: "success", Message: verification.Message}
	o.mu.Unlock()
}

func (o *Orchestrator) setVerification(v VerificationStatus) {
	o.mu.Lock()
	o.verification = &v
	o.mu.Unlock()
}
