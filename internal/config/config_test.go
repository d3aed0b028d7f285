package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "medilink-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "medilink-auth")
	}
	if cfg.JWTAudience != "medilink-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "medilink-api")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should default to true")
	}
	if cfg.EventsKafkaTopic != "medilink-events" {
		t.Errorf("EventsKafkaTopic = %q, want medilink-events", cfg.EventsKafkaTopic)
	}
	if cfg.KafkaGroupID != "medilink-relay" {
		t.Errorf("KafkaGroupID = %q, want medilink-relay", cfg.KafkaGroupID)
	}
	if cfg.TemporalNamespace != "default" {
		t.Errorf("TemporalNamespace = %q, want default", cfg.TemporalNamespace)
	}
	if cfg.AuditExportMaxRows != 100000 {
		t.Errorf("AuditExportMaxRows = %d, want 100000", cfg.AuditExportMaxRows)
	}
	if cfg.DisputeEscalation() != 72*time.Hour {
		t.Errorf("DisputeEscalation = %v, want 72h", cfg.DisputeEscalation())
	}
	if cfg.RenewalEvery() != time.Hour {
		t.Errorf("RenewalEvery = %v, want 1h", cfg.RenewalEvery())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("FRONTEND_UPSTREAM_URL", "http://localhost:3000")
	os.Setenv("DISPUTE_ESCALATION_AFTER", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.FrontendUpstreamURL != "http://localhost:3000" {
		t.Errorf("FrontendUpstreamURL = %q", cfg.FrontendUpstreamURL)
	}
	if cfg.DisputeEscalation() != 2*time.Hour {
		t.Errorf("DisputeEscalation = %v, want 2h", cfg.DisputeEscalation())
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"valid middle", "12", 12, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_InsecureCookiesRejectedInProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")
	os.Setenv("COOKIE_SECURE", "false")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when COOKIE_SECURE=false and APP_ENV=production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
	if err.Error() != "config: COOKIE_SECURE must be true when APP_ENV=production" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoad_InsecureCookiesAllowedInDevelopment(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "development")
	os.Setenv("COOKIE_SECURE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false")
	}
	if cfg.IsProduction() {
		t.Error("IsProduction should be false for development")
	}
}

func TestLoad_AuditExportMaxRows(t *testing.T) {
	os.Clearenv()
	os.Setenv("AUDIT_EXPORT_MAX_ROWS", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject a negative AUDIT_EXPORT_MAX_ROWS")
	}
}

func TestAccessTTL(t *testing.T) {
	testCases := []struct {
		value string
		want  time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"invalid", 15 * time.Minute},
		{"0", 15 * time.Minute},
		{"-5m", 15 * time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("JWT_ACCESS_TTL", tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.AccessTTL(); got != tc.want {
				t.Errorf("AccessTTL = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRefreshTTL(t *testing.T) {
	testCases := []struct {
		value string
		want  time.Duration
	}{
		{"336h", 14 * 24 * time.Hour},
		{"invalid", 168 * time.Hour},
		{"0", 168 * time.Hour},
		{"-1h", 168 * time.Hour},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("JWT_REFRESH_TTL", tc.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.RefreshTTL(); got != tc.want {
				t.Errorf("RefreshTTL = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "localhost:9092", []string{"localhost:9092"}},
		{"trimmed", " a:9092 , b:9092 ,", []string{"a:9092", "b:9092"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{KafkaBrokers: tc.in}
			if got := c.KafkaBrokersList(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("KafkaBrokersList = %v, want %v", got, tc.want)
			}
		})
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should yield nil brokers")
	}
}
