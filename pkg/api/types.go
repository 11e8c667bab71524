package api

// APIResponse represents a standard API response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Stats summarizes the point index for diagnostics and metrics reporting.
type Stats struct {
	Keys int `json:"keys"`
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Port    int
	APIKey  string
	DataDir string
}
