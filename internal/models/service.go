package models

// ActionType tells the client what selecting a service does
type ActionType string

const (
	ActionChatRedirect    ActionType = "chat_redirect"
	ActionContactForm     ActionType = "contact_form"
	ActionInformational   ActionType = "informational"
	ActionDocumentRequest ActionType = "document_request"
)

// ServiceTier groups offerings for the recommendation policy
type ServiceTier string

const (
	TierAutoAssistance ServiceTier = "auto_assistance"
	TierPremiumChat    ServiceTier = "premium_chat"
	TierSpecialist     ServiceTier = "specialist"
	TierGeneral        ServiceTier = "general"
)

// ServiceOption is a purchasable offering shown after the diagnostic
type ServiceOption struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Details     string      `json:"details,omitempty" yaml:"details"`
	Price       int         `json:"price" yaml:"price"` // 0 = quote on request
	Action      ActionType  `json:"actionType" yaml:"action"`
	Tier        ServiceTier `json:"tier" yaml:"tier"`
	Features    []string    `json:"features,omitempty" yaml:"features"`
}

// IsQuoteOnRequest returns true when the price is negotiated
func (s ServiceOption) IsQuoteOnRequest() bool {
	return s.Price == 0
}
