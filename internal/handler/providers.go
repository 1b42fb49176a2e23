package handler

import "net/http"

// ProviderLister lists the registered provider names.
type ProviderLister interface {
	Providers() []string
}

// ProvidersHandler reports which providers can be selected.
type ProvidersHandler struct {
	providers       ProviderLister
	defaultProvider string
}

// NewProvidersHandler creates a new providers handler.
func NewProvidersHandler(providers ProviderLister, defaultProvider string) *ProvidersHandler {
	return &ProvidersHandler{
		providers:       providers,
		defaultProvider: defaultProvider,
	}
}

// ProvidersResponse is the body of GET /providers.
type ProvidersResponse struct {
	Providers []string `json:"providers"`
	Default   string   `json:"default"`
}

// List handles GET /providers
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &ProvidersResponse{
		Providers: h.providers.Providers(),
		Default:   h.defaultProvider,
	})
}
