package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Projects) != 2 {
		t.Fatalf("default projects = %d, want 2", len(cfg.Projects))
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no projects",
			yaml: `providers: {}`,
			want: "projects is required",
		},
		{
			name: "missing name",
			yaml: "projects:\n  p1:\n    funding_goal: 100\n    currency: USD\n",
			want: "name is required",
		},
		{
			name: "zero goal",
			yaml: "projects:\n  p1:\n    name: P\n    funding_goal: 0\n    currency: USD\n",
			want: "funding_goal must be positive",
		},
		{
			name: "bad currency",
			yaml: "projects:\n  p1:\n    name: P\n    funding_goal: 100\n    currency: usd\n",
			want: "currency",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for missing config file")
	}
	if err := os.WriteFile(filepath.Join(dir, "fundline.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := cfg.Projects["project_1"]; !ok {
		t.Fatalf("project_1 missing from loaded config")
	}
}

func TestProviderSecretsFromEnv(t *testing.T) {
	t.Setenv("FUNDLINE_STRIPE_WEBHOOK_SECRET", "whsec_env")
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Stripe.WebhookSecret != "whsec_env" {
		t.Fatalf("webhook secret = %q, want env value", cfg.Providers.Stripe.WebhookSecret)
	}
}
