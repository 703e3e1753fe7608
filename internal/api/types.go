package api

// CreateRequestPayload is the submission body for a new retrieval request.
// Field names follow the portal vocabulary the clients already speak.
type CreateRequestPayload struct {
	Rut        string   `json:"rut"`
	Claveunica string   `json:"claveunica"`
	Documento  string   `json:"documento,omitempty"`
	Email      string   `json:"email"`
	Documents  []string `json:"documents"`
	Delivery   []string `json:"delivery,omitempty"`
}

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
