package main

import (
	"testing"

	"temanngopi/pos/internal/config"
)

func TestValidateSecurityConfigRejectsWeakSecret(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected weak secret to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}); err != nil {
		t.Fatalf("expected strong secret to pass, got %v", err)
	}
}
