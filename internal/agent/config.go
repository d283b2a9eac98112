package agent

// ================ Config ================

type Config struct {
	APIKey       string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL      string `envconfig:"GEMINI_BASE_URL"`
	Instructions string `envconfig:"AGENT_INSTRUCTIONS" default:"You are a friendly training-course consultant. Answer briefly, suggest concrete courses and always mention the course code when you have one."`
	MaxToolCalls int    `envconfig:"AGENT_TOOL_MAX_CALLS" default:"10"`

	Model ModelConfig
}

type ModelConfig struct {
	Model       string  `envconfig:"AGENT_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"AGENT_MAX_TOKENS" default:"2048"`
	Temperature float32 `envconfig:"AGENT_TEMPERATURE" default:"0.4"`
}
