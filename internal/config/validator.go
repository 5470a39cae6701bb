package config

import (
	"fmt"
	"strings"

	"github.com/rohankatakam/memory-engine/internal/errors"
)

// ValidationContext specifies what configuration a given deployment
// mode or command needs present.
type ValidationContext string

const (
	// ValidationContextServer is required by cmd/memory-server.
	ValidationContextServer ValidationContext = "server"
	// ValidationContextMCP is required by cmd/memory-mcp.
	ValidationContextMCP ValidationContext = "mcp"
	// ValidationContextSweeper is required by cmd/memory-sweeper.
	ValidationContextSweeper ValidationContext = "sweeper"
	// ValidationContextAll validates every section.
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result.
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result.
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors.
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message.
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nwarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context with the
// auto-detected deployment mode.
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	mode := DetectMode()
	return c.ValidateWithMode(ctx, mode)
}

// ValidateWithMode validates configuration for the given context and mode.
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextServer:
		c.validateStorage(result, mode)
		c.validateVectorDB(result)
		c.validateAPI(result, false)
	case ValidationContextMCP:
		c.validateStorage(result, mode)
		c.validateVectorDB(result)
	case ValidationContextSweeper:
		c.validateStorage(result, mode)
		c.validatePropagator(result)
	case ValidationContextAll:
		c.validateStorage(result, mode)
		c.validateVectorDB(result)
		c.validateAPI(result, false)
		c.validatePropagator(result)
		c.validateExposure(result)
		c.validateShock(result)
	}

	return result
}

// ValidateOrFatal validates configuration and panics with a structured
// error if invalid, using the auto-detected deployment mode.
func (c *Config) ValidateOrFatal(ctx ValidationContext) {
	mode := DetectMode()
	c.ValidateOrFatalWithMode(ctx, mode)
}

// ValidateOrFatalWithMode validates configuration with an explicit mode
// and panics with a structured error if invalid.
func (c *Config) ValidateOrFatalWithMode(ctx ValidationContext, mode DeploymentMode) {
	result := c.ValidateWithMode(ctx, mode)
	if result.HasErrors() {
		panic(errors.ValidationError(result.Error()))
	}
}

func (c *Config) validateStorage(result *ValidationResult, mode DeploymentMode) {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgres_dsn is required when storage.type is postgres")
			return
		}
		if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			result.AddError("storage.postgres_dsn must start with postgres:// or postgresql://")
		}
		if mode.RequiresSecureCredentials() && strings.Contains(c.Storage.PostgresDSN, "sslmode=disable") {
			result.AddError("storage.postgres_dsn has sslmode=disable, not allowed in %s mode", mode)
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			result.AddError("storage.sqlite_path is required when storage.type is sqlite")
		}
	default:
		result.AddError("storage.type must be postgres or sqlite, got %q", c.Storage.Type)
	}
}

func (c *Config) validateVectorDB(result *ValidationResult) {
	if c.VectorDB.Addr == "" {
		result.AddError("vectordb.addr is required")
	}
	if c.VectorDB.ContentCollection == "" || c.VectorDB.InvalidatesCollection == "" || c.VectorDB.ConfirmsCollection == "" {
		result.AddError("vectordb collection names must all be set")
	}
	if c.VectorDB.VectorSize <= 0 {
		result.AddWarning("vectordb.vector_size is not set, will use embedding provider default")
	}
}

func (c *Config) validateAPI(result *ValidationResult, required bool) {
	if c.API.OpenAIKey == "" && c.API.GeminiKey == "" {
		if required {
			result.AddError("no embedding/arbiter API key configured, set OPENAI_API_KEY or GEMINI_API_KEY")
		} else {
			result.AddWarning("no embedding/arbiter API key configured")
		}
	}
}

func (c *Config) validatePropagator(result *ValidationResult) {
	if c.Propagator.Damping <= 0 || c.Propagator.Damping >= 1 {
		result.AddError("propagator.damping must be in (0, 1), got %.3f", c.Propagator.Damping)
	}
	if c.Propagator.MaxIterations <= 0 {
		result.AddError("propagator.max_iterations must be positive")
	}
	if c.Propagator.Interval <= 0 {
		result.AddError("propagator.interval must be positive")
	}
}

func (c *Config) validateExposure(result *ValidationResult) {
	if c.Exposure.TopKPerCondition <= 0 {
		result.AddWarning("exposure.top_k_per_condition is not set, will use default")
	}
	if c.Exposure.MinSimilarity < 0 || c.Exposure.MinSimilarity > 1 {
		result.AddError("exposure.min_similarity must be in [0, 1]")
	}
}

func (c *Config) validateShock(result *ValidationResult) {
	if c.Shock.MaxHops <= 0 {
		result.AddWarning("shock.max_hops is not set, will use default")
	}
	if c.Shock.SpectralGuard <= 0 || c.Shock.SpectralGuard > 1 {
		result.AddError("shock.spectral_guard must be in (0, 1]")
	}
}

// RequireStorage checks that storage configuration is valid and returns
// a structured error if not.
func (c *Config) RequireStorage() error {
	result := &ValidationResult{Valid: true}
	mode := DetectMode()
	c.validateStorage(result, mode)

	if result.HasErrors() {
		return errors.ValidationError(result.Error())
	}

	return nil
}

// RequireAPI checks that an embedding/arbiter API key is configured.
func (c *Config) RequireAPI() error {
	result := &ValidationResult{Valid: true}
	c.validateAPI(result, true)

	if result.HasErrors() {
		return errors.ValidationError(result.Error())
	}

	return nil
}
