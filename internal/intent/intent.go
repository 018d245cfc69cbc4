// Package intent turns a free-text edit instruction into a structured,
// schema-checked intent record via a single low-randomness classification
// call against the generation service.
package intent

import "strings"

type Type string

const (
	TypeAddLogo      Type = "add_logo"
	TypeReplaceLogo  Type = "replace_logo"
	TypeUpdateStyles Type = "update_styles"
	TypeUpdateLayout Type = "update_layout"
	TypeAddSection   Type = "add_section"
	TypeContentEdit  Type = "content_edit"
	TypeFixBug       Type = "fix_bug"
)

const (
	ScopeComponent = "component"
	ScopePage      = "page"
	ScopeGlobal    = "global"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Intent is created once per request and embedded in the edit ledger record;
// it is never persisted standalone.
//
// Invariant: when NeedsClarification is true no downstream stage may run.
type Intent struct {
	Type               Type   `json:"intent_type"`
	Target             string `json:"target,omitempty"`
	RequiresAsset      bool   `json:"requires_asset"`
	AssetType          string `json:"asset_type,omitempty"`
	StyleSystem        string `json:"style_system"`
	Scope              string `json:"scope"`
	Risk               string `json:"risk"`
	NeedsClarification bool   `json:"needs_clarification"`
}

var knownTypes = map[Type]bool{
	TypeAddLogo: true, TypeReplaceLogo: true, TypeUpdateStyles: true,
	TypeUpdateLayout: true, TypeAddSection: true, TypeContentEdit: true,
	TypeFixBug: true,
}

// normalize coerces out-of-enum values to safe defaults. Extra or unknown
// values are ignored rather than rejected, per the external-service contract.
func (in Intent) normalize() Intent {
	in.Target = strings.TrimSpace(in.Target)
	if !knownTypes[Type(strings.TrimSpace(string(in.Type)))] {
		in.Type = TypeContentEdit
	}
	switch in.Scope {
	case ScopeComponent, ScopePage, ScopeGlobal:
	default:
		in.Scope = ScopeComponent
	}
	switch in.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		in.Risk = RiskMedium
	}
	switch in.StyleSystem {
	case "tailwind", "css":
	default:
		in.StyleSystem = "unknown"
	}
	return in
}
