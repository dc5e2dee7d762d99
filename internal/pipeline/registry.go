// Package pipeline holds the pipeline event model and the static catalog
// of pipeline definitions.
package pipeline

// Definition is an immutable catalog entry describing one pipeline type.
// RequiredSteps must all reach success for the pipeline to be valid;
// OptionalSteps may occur but never affect validity.
type Definition struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiredSteps []string `json:"required_steps"`
	OptionalSteps []string `json:"optional_steps"`
}

// IsRequired reports whether step is one of the definition's required steps.
func (d *Definition) IsRequired(step string) bool {
	for _, s := range d.RequiredSteps {
		if s == step {
			return true
		}
	}
	return false
}

// Registry is the process-wide catalog of pipeline definitions.
// It is built once at startup and read-only afterwards; adding pipeline
// types requires a redeploy.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry returns a registry populated with the canonical checkout
// pipeline definitions.
func NewRegistry() *Registry {
	defs := []*Definition{
		{
			Name: "Physical Goods Checkout",
			Type: "checkout_physical",
			RequiredSteps: []string{
				"buyer_validated",
				"inventory_reserved",
				"payment_initiated",
				"payment_confirmed",
				"fulfillment_scheduled",
				"checkout_completed",
			},
			OptionalSteps: []string{"shipping_quoted"},
		},
		{
			Name: "Digital Goods Checkout",
			Type: "checkout_digital",
			RequiredSteps: []string{
				"buyer_validated",
				"payment_initiated",
				"payment_confirmed",
				"checkout_completed",
			},
			OptionalSteps: []string{"fulfillment_scheduled", "license_issued"},
		},
		{
			Name: "Subscription Checkout",
			Type: "checkout_subscription",
			RequiredSteps: []string{
				"buyer_validated",
				"payment_initiated",
				"payment_confirmed",
				"webhook_received",
				"webhook_verified",
				"checkout_completed",
			},
			OptionalSteps: []string{"trial_started"},
		},
	}

	m := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		m[d.Type] = d
	}
	return &Registry{defs: m}
}

// GetDefinition returns the definition for a pipeline type, or nil if the
// type is not registered.
func (r *Registry) GetDefinition(pipelineType string) *Definition {
	return r.defs[pipelineType]
}

// Types returns the registered pipeline type keys.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}
