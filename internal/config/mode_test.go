package config

import "testing"

func TestDetectModeExplicitOverride(t *testing.T) {
	t.Setenv("MEMORY_ENGINE_DEPLOY_MODE", "ci")
	if DetectMode() != ModeCI {
		t.Errorf("DetectMode() = %v, want %v", DetectMode(), ModeCI)
	}
}

func TestDetectModeCIEnvVar(t *testing.T) {
	t.Setenv("CI", "true")
	if !IsCI() {
		t.Error("IsCI() should be true when CI=true")
	}
}

func TestModeCapabilities(t *testing.T) {
	if !ModeDevelopment.AllowsDevelopmentDefaults() {
		t.Error("development mode should allow development defaults")
	}
	if ModeCI.AllowsDevelopmentDefaults() {
		t.Error("CI mode should not allow development defaults")
	}
	if !ModeCI.RequiresStrictValidation() {
		t.Error("CI mode should require strict validation")
	}
	if !ModePackaged.RequiresSecureCredentials() || !ModeCI.RequiresSecureCredentials() {
		t.Error("packaged and CI modes should require secure credentials")
	}
	if ModeDevelopment.RequiresSecureCredentials() {
		t.Error("development mode should not require secure credentials")
	}
}
