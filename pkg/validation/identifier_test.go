package validation

import (
	"errors"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"firm agency", "FA1000", false},
		{"broker company", "GB9999", false},
		{"individual", "IA1000", false},
		{"single letter", "A1234", false},
		{"six digits", "ABCD123456", false},

		// Invalid identifiers - injection attempts
		{"empty", "", true},
		{"query smuggling", "FA1000&status=all", true},
		{"path traversal", "../FA1000", true},
		{"lowercase", "fa1000", true},
		{"too few digits", "FA100", true},
		{"too many digits", "FA1234567", true},
		{"long prefix", "ABCDE1234", true},
		{"spaces", "FA 1000", true},
		{"newline", "FA1000\n", true},
		{"digits only", "1000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidIdentifier) {
				t.Errorf("ValidateIdentifier(%q) error %v does not wrap ErrInvalidIdentifier", tt.id, err)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"uppercase passthrough", "FA1000", "FA1000", false},
		{"lowercase normalized", "fa1000", "FA1000", false},
		{"whitespace trimmed", "  ia1000 ", "IA1000", false},
		{"invalid rejected", "fa-1000", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestValidatePrefixes(t *testing.T) {
	tests := []struct {
		name     string
		prefixes []string
		wantErr  bool
	}{
		{"firm defaults", []string{"FA", "FB", "GB"}, false},
		{"individual defaults", []string{"I", "J"}, false},
		{"empty slice", []string{}, false},
		{"lowercase", []string{"fa"}, true},
		{"digits", []string{"F1"}, true},
		{"empty prefix", []string{""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrefixes(tt.prefixes)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrefixes(%v) error = %v, wantErr %v", tt.prefixes, err, tt.wantErr)
			}
		})
	}
}
