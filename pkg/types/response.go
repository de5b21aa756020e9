package types

// Envelope is the JSON shape returned by the synchronous verification
// endpoint and the checkout session endpoint.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorData carries the failure payload inside an Envelope.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
