package models

// Defaults applied to new response variants
const (
	DefaultVariantDescription = "Success"
	NewVariantDescription     = "New Response"
	DefaultVariantBody        = "{}"
	DefaultVariantHeaders     = "{}"
)

// ResponseVariant is one possible response of an endpoint
type ResponseVariant struct {
	ID          string      `json:"id"`
	EndpointID  string      `json:"endpointId"`
	StatusCode  int         `json:"statusCode"`
	Description string      `json:"description"`
	Body        string      `json:"body"`    // Template
	Headers     string      `json:"headers"` // JSON object of header templates
	Delay       *int        `json:"delay"`   // Milliseconds, nil means use the global default
	Memo        string      `json:"memo"`
	SortOrder   int         `json:"sortOrder"`
	MatchRules  *MatchRules `json:"matchRules"`
}

// VariantInput represents input for adding a variant to an endpoint
type VariantInput struct {
	StatusCode  *int    `json:"statusCode,omitempty"`
	Description *string `json:"description,omitempty"`
}

// VariantUpdate represents a partial variant update.
// ClearDelay and ClearMatchRules reset the nullable fields.
type VariantUpdate struct {
	StatusCode      *int        `json:"statusCode,omitempty"`
	Description     *string     `json:"description,omitempty"`
	Body            *string     `json:"body,omitempty"`
	Headers         *string     `json:"headers,omitempty"`
	Delay           *int        `json:"delay,omitempty"`
	ClearDelay      bool        `json:"clearDelay,omitempty"`
	Memo            *string     `json:"memo,omitempty"`
	SortOrder       *int        `json:"sortOrder,omitempty"`
	MatchRules      *MatchRules `json:"matchRules,omitempty"`
	ClearMatchRules bool        `json:"clearMatchRules,omitempty"`
}

// Apply copies the set fields of the update onto v
func (u *VariantUpdate) Apply(v *ResponseVariant) {
	if u.StatusCode != nil {
		v.StatusCode = *u.StatusCode
	}
	if u.Description != nil {
		v.Description = *u.Description
	}
	if u.Body != nil {
		v.Body = *u.Body
	}
	if u.Headers != nil {
		v.Headers = *u.Headers
	}
	if u.ClearDelay {
		v.Delay = nil
	} else if u.Delay != nil {
		d := *u.Delay
		v.Delay = &d
	}
	if u.Memo != nil {
		v.Memo = *u.Memo
	}
	if u.SortOrder != nil {
		v.SortOrder = *u.SortOrder
	}
	if u.ClearMatchRules {
		v.MatchRules = nil
	} else if u.MatchRules != nil {
		v.MatchRules = NormalizeMatchRules(u.MatchRules)
	}
}
