package translate

import "github.com/anthroute/anthroute/pkg/api"

// ResolveModel applies the model rename and then gates the resolved
// name against the blocklist and allowlist. Gating runs on the resolved
// name so that a rename cannot sidestep either list.
func (p *Policy) ResolveModel(model string) (string, *api.APIError) {
	resolved := model
	if mapped, ok := p.Rename[model]; ok {
		resolved = mapped
	}
	if apiErr := p.CheckModel(resolved); apiErr != nil {
		return "", apiErr
	}
	return resolved, nil
}

// CheckModel gates a model name against the blocklist and allowlist
// without applying the rename map. Used directly in passthrough mode,
// where the request body is relayed unmodified.
func (p *Policy) CheckModel(model string) *api.APIError {
	if p.Block[model] {
		return api.NewInvalidRequestError("model is blocked")
	}
	if len(p.Allow) > 0 && !p.Allow[model] {
		return api.NewInvalidRequestError("model not in allowlist")
	}
	return nil
}
