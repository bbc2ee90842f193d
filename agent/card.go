package agent

import "strings"

// Transport identifies a supported request transport. The set is closed:
// dispatch happens over an enumerated variant, not free-form strings from
// the card.
type Transport string

// TransportHTTPJSON is plain JSON over HTTP POST, the default transport.
const TransportHTTPJSON Transport = "HTTP+JSON"

// x402ExtensionMarker identifies the payment capability extension on a card.
const x402ExtensionMarker = "x402"

// Extension is a capability extension declared on an agent card.
type Extension struct {
	URI    string                 `json:"uri"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Capabilities groups the optional capabilities an agent card declares.
type Capabilities struct {
	Extensions []Extension `json:"extensions,omitempty"`
}

// Skill describes one skill an agent advertises.
type Skill struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Card is an agent's published manifest: its endpoint, transport, skills,
// and capability extensions.
type Card struct {
	Name               string       `json:"name"`
	URL                string       `json:"url"`
	PreferredTransport Transport    `json:"preferredTransport,omitempty"`
	Capabilities       Capabilities `json:"capabilities,omitempty"`
	Skills             []Skill      `json:"skills,omitempty"`
}

// PaymentConfig is the payment capability parsed once from a card's x402
// extension.
type PaymentConfig struct {
	// GatewayURL is the payment gateway endpoint paid calls go through.
	GatewayURL string

	// PriceUSDC is the advertised per-request price in display units.
	PriceUSDC string
}

// paymentConfig extracts the x402 extension parameters, or nil when the card
// declares no payment capability.
func (c *Card) paymentConfig() *PaymentConfig {
	for _, ext := range c.Capabilities.Extensions {
		if !strings.Contains(ext.URI, x402ExtensionMarker) {
			continue
		}
		cfg := &PaymentConfig{}
		if v, ok := ext.Params["gateway_url"].(string); ok {
			cfg.GatewayURL = v
		}
		switch v := ext.Params["price_usdc"].(type) {
		case string:
			cfg.PriceUSDC = v
		case float64:
			cfg.PriceUSDC = formatPrice(v)
		}
		return cfg
	}
	return nil
}
