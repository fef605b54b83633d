package registry

import (
	"context"
	"os"
	"testing"
)

func TestEnvSecretResolverResolvesSetVariable(t *testing.T) {
	os.Setenv("TEST_WORKER_KEY", "sk-test-123")
	defer os.Unsetenv("TEST_WORKER_KEY")

	r := EnvSecretResolver{}
	v, err := r.Resolve(context.Background(), "TEST_WORKER_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if v != "sk-test-123" {
		t.Fatalf("expected resolved env value, got %q", v)
	}
}

func TestEnvSecretResolverErrorsOnMissingVariable(t *testing.T) {
	r := EnvSecretResolver{}
	_, err := r.Resolve(context.Background(), "DEFINITELY_NOT_SET_XYZ")
	if err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestEnvSecretResolverEmptyRefIsNotAnError(t *testing.T) {
	r := EnvSecretResolver{}
	v, err := r.Resolve(context.Background(), "")
	if err != nil || v != "" {
		t.Fatalf("expected empty ref to resolve to empty string with no error, got %q, %v", v, err)
	}
}
