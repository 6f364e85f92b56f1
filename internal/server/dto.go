package server

import "fundline/internal/domain"

// Request payloads

type CreateIntentRequest struct {
	ProjectID      string `json:"project_id"`
	Amount         int64  `json:"amount" minimum:"1" doc:"Amount in minor units (cents)."`
	Provider       string `json:"provider" enum:"stripe,paypal"`
	SupporterName  string `json:"supporter_name,omitempty"`
	SupporterEmail string `json:"supporter_email,omitempty" format:"email"`
	Message        string `json:"message,omitempty"`
	OpenCheckout   bool   `json:"open_checkout,omitempty" doc:"Open a provider checkout session and attach its reference."`
}

type AttachReferenceRequest struct {
	ProviderReference string `json:"provider_reference"`
}

// Response payloads

type CreateIntentResponse struct {
	Intent      domain.Intent `json:"intent"`
	RedirectURL string        `json:"redirect_url,omitempty"`
}

type WebhookResponse struct {
	Status   string `json:"status"`
	IntentID string `json:"intent_id,omitempty"`
}
