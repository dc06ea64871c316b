package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Log:          DefaultLogConfig(),
		Memory:       DefaultMemoryConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Experts:      DefaultExpertsConfig(),
	}
}

// DefaultServerConfig returns default server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0, // progress streams are long-lived
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: false,
	}
}

// DefaultMemoryConfig returns default temporal memory settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:       "memory",
		HalflifeDays:  30,
		SweepInterval: time.Minute,
		ContextTimeouts: map[string]time.Duration{
			"chat":        30 * time.Minute,
			"planning":    60 * time.Minute,
			"development": 120 * time.Minute,
			"general":     45 * time.Minute,
		},
		DefaultTimeout:     45 * time.Minute,
		SummaryTokenBudget: 2048,
		SearchLimit:        20,
	}
}

// DefaultOrchestratorConfig returns default orchestration settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrency:     5,
		DefaultTaskTimeout: 30 * time.Second,
		EventQueueSize:     256,
		MatchThreshold:     0.35,
		FallbackExpert:     "general",
	}
}

// DefaultRedisConfig returns default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "juniper:",
	}
}

// DefaultDatabaseConfig returns default database settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "juniper",
		Password:        "",
		Name:            "juniper.db",
		SSLMode:         "disable",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultTelemetryConfig returns default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "juniper",
		SampleRate:   1.0,
	}
}

// DefaultExpertsConfig returns the built-in expert table. Deployments
// override this with their own collaborator endpoints.
func DefaultExpertsConfig() ExpertsConfig {
	return ExpertsConfig{
		Entries: []ExpertEntry{
			{
				ID:          "calendar",
				Name:        "Calendar",
				Description: "schedule meetings appointments and events on the calendar",
				Triggers:    []string{"schedule", "meeting", "appointment", "calendar", "event", "book"},
				Timeout:     15 * time.Second,
			},
			{
				ID:          "list",
				Name:        "Lists",
				Description: "manage shopping and todo lists add or remove items",
				Triggers:    []string{"list", "add", "remove", "buy", "shopping", "todo", "groceries"},
				Timeout:     10 * time.Second,
			},
			{
				ID:          "reminder",
				Name:        "Reminders",
				Description: "set reminders and notifications at a point in time",
				Triggers:    []string{"remind", "reminder", "alert", "notify"},
				Timeout:     10 * time.Second,
			},
			{
				ID:          "weather",
				Name:        "Weather",
				Description: "report current weather and forecasts for a location",
				Triggers:    []string{"weather", "forecast", "temperature", "rain", "sunny"},
				Timeout:     15 * time.Second,
			},
			{
				ID:          "memory",
				Name:        "Memory",
				Description: "recall remembered facts and past conversations",
				Triggers:    []string{"remember", "recall", "forget", "memory", "what did"},
				Timeout:     10 * time.Second,
			},
			{
				ID:          "home",
				Name:        "Home Control",
				Description: "control smart home devices lights thermostat and switches",
				Triggers:    []string{"light", "lights", "thermostat", "turn on", "turn off", "dim"},
				Timeout:     15 * time.Second,
			},
			{
				ID:          "general",
				Name:        "General Assistant",
				Description: "fallback handler for requests no specialist matches",
				Triggers:    []string{},
				Timeout:     30 * time.Second,
			},
		},
	}
}
