package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"arbitra/config"
	"arbitra/protocol"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDeriveAddress(t *testing.T) {
	cases := []struct {
		kind string
		args []string
		want string
	}{
		{"config", []string{"market"}, protocol.ConfigAddress("market").String()},
		{"subject", []string{"listing-1"}, protocol.SubjectAddress("listing-1").String()},
		{"dispute", []string{"listing-1", "2"}, protocol.DisputeAddress("listing-1", 2).String()},
		{"escrow", []string{"listing-1", "2"}, protocol.EscrowAddress("listing-1", 2).String()},
		{"pool", []string{"juror", "jane"}, protocol.PoolAddress(protocol.RoleJuror, "jane").String()},
		{"record", []string{"Challenger", "listing-1", "carol", "1"}, protocol.RecordAddress(protocol.RoleChallenger, "listing-1", "carol", 1).String()},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			got, err := deriveAddress(tc.kind, tc.args)
			if err != nil {
				t.Fatalf("derive: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDeriveAddress_Errors(t *testing.T) {
	cases := []struct {
		name string
		kind string
		args []string
	}{
		{"unknown kind", "wallet", []string{"x"}},
		{"arity", "escrow", []string{"listing-1"}},
		{"zero round", "escrow", []string{"listing-1", "0"}},
		{"bad role", "pool", []string{"arbiter", "jane"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := deriveAddress(tc.kind, tc.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAddressCommand(t *testing.T) {
	out, err := execute(t, "address", "subject", "listing-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out) != protocol.SubjectAddress("listing-1").String() {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMigrateList(t *testing.T) {
	out, err := execute(t, "migrate", "--list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "0001_ledger") {
		t.Fatalf("expected 0001_ledger in %q", out)
	}
}

func TestLoadServeConfig_RequiresSecret(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	config.SetDefaults()
	viper.Set("database.url", "postgres://localhost/arbitra")

	_, err := loadServeConfig(serveCmd)
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("expected jwt_secret failure, got %v", err)
	}

	viper.Set("auth.jwt_secret", "a-long-enough-signing-secret")
	if err := serveCmd.Flags().Set("addr", ":9999"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	cfg, err := loadServeConfig(serveCmd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("expected flag to override addr, got %q", cfg.HTTP.Addr)
	}
}
