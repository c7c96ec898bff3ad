package validation

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
)

func TestRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid string", "test", false},
		{"empty string", "", true},
		{"whitespace only", "   ", true},
		{"tab only", "\t", true},
		{"valid with spaces", " test ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Required("name", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Required() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRequired) {
				t.Errorf("Required() error should wrap ErrRequired")
			}
		})
	}
}

func TestMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantErr bool
	}{
		{"under max", "test", 10, false},
		{"at max", "test", 4, false},
		{"over max", "testing", 4, true},
		{"unicode chars", "日本語", 5, false},
		{"unicode over", "日本語テスト", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MaxLength("name", tt.value, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("MaxLength() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrTooLong) {
				t.Errorf("MaxLength() error should wrap ErrTooLong")
			}
		})
	}
}

func TestGatewayID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"simple", "alpha", nil},
		{"with separators", "eu-west_1.gw", nil},
		{"leading digit", "1gw", nil},
		{"empty", "", ErrRequired},
		{"leading dash", "-gw", ErrInvalidFormat},
		{"slash", "a/b", ErrInvalidFormat},
		{"space", "a b", ErrInvalidFormat},
		{"too long", strings.Repeat("a", MaxGatewayIDLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GatewayID("id", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("GatewayID(%q) = %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GatewayID(%q) = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestMethod(t *testing.T) {
	valid := []string{"status", "agents.list", "sessions.get_history"}
	for _, m := range valid {
		if err := Method("method", m); err != nil {
			t.Errorf("Method(%q) = %v", m, err)
		}
	}

	invalid := []string{"", "1status", ".status", "agents/list", "a b", strings.Repeat("m", MaxMethodLength+1)}
	for _, m := range invalid {
		if err := Method("method", m); err == nil {
			t.Errorf("Method(%q) should fail", m)
		}
	}
}

func TestHostPort(t *testing.T) {
	if err := HostPort("addr", "127.0.0.1:7656"); err != nil {
		t.Errorf("HostPort() = %v", err)
	}
	if err := HostPort("addr", "[::1]:8090"); err != nil {
		t.Errorf("HostPort() = %v", err)
	}
	if err := HostPort("addr", "localhost"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("HostPort(no port) = %v, want ErrInvalidFormat", err)
	}
	if err := HostPort("addr", ""); !errors.Is(err, ErrRequired) {
		t.Errorf("HostPort(empty) = %v, want ErrRequired", err)
	}
}

func TestPositive(t *testing.T) {
	if err := Positive("n", 1); err != nil {
		t.Errorf("Positive(1) = %v", err)
	}
	if err := Positive("n", 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Positive(0) = %v, want ErrOutOfRange", err)
	}
}

func TestErrorsMatchInvalidInput(t *testing.T) {
	err := GatewayID("gateways[0].id", "bad id")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("validation error should match ErrInvalidInput: %v", err)
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError() = false")
	}
	if got := apperrors.FromSentinel(err).Code; got != apperrors.CodeInvalidParams {
		t.Errorf("code = %d, want %d", got, apperrors.CodeInvalidParams)
	}
	if !strings.HasPrefix(err.Error(), "gateways[0].id: ") {
		t.Errorf("error should name the field: %q", err.Error())
	}
}

func TestAll(t *testing.T) {
	err := All(
		func() error { return Name("name", "gw") },
		func() error { return Positive("n", 0) },
		func() error { return Required("x", "") },
	)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("All() = %v, want first failure", err)
	}
	if All() != nil {
		t.Error("All() with no validators should pass")
	}
}

func TestErrors(t *testing.T) {
	var errs Errors
	errs.Add(nil)
	if errs.HasErrors() || errs.Err() != nil {
		t.Fatal("empty collection should have no errors")
	}

	errs.Add(Required("a", ""))
	errs.Add(Positive("b", -1))
	if !errs.HasErrors() {
		t.Fatal("HasErrors() = false")
	}
	if !strings.HasPrefix(errs.Error(), "multiple validation errors: ") {
		t.Errorf("Error() = %q", errs.Error())
	}
	if !errors.Is(errs.Err(), ErrOutOfRange) {
		t.Error("collection should match its members")
	}
	if !errors.Is(errs.First(), ErrRequired) {
		t.Error("First() should return the first error")
	}
}
