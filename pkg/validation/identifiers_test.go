package validation

import (
	"testing"
)

func TestValidateArxivID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid ids
		{"new scheme five digits", "1706.03762", false},
		{"new scheme four digits", "0704.0001", false},
		{"with version", "2401.00001v2", false},
		{"archive scheme", "hep-th/9901001", false},
		{"archive with subject class", "math.GT/0309136", false},
		{"archive with version", "cond-mat/0102536v1", false},

		// Invalid ids
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"query injection", "1706.03762?admin=1", true},
		{"too few digits", "1706.123", true},
		{"too many digits", "1706.123456", true},
		{"url not sanitized", "https://arxiv.org/abs/1706.03762", true},
		{"spaces", "1706. 03762", true},
		{"bare version", "1706.03762v", true},
		{"uppercase archive", "HEP-TH/9901001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArxivID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArxivID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeArxivID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare passthrough", "1706.03762", "1706.03762", false},
		{"spaces trimmed", "  1706.03762 ", "1706.03762", false},
		{"arXiv prefix", "arXiv:1706.03762", "1706.03762", false},
		{"abs url", "https://arxiv.org/abs/1706.03762v5", "1706.03762v5", false},
		{"pdf url", "https://arxiv.org/pdf/1706.03762.pdf", "1706.03762", false},
		{"schemeless url", "arxiv.org/abs/hep-th/9901001", "hep-th/9901001", false},
		{"trailing slash", "https://arxiv.org/abs/1706.03762/", "1706.03762", false},
		{"invalid rejected", "attention", "", true},
		{"other host rejected", "https://example.com/abs/1706.03762", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeArxivID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeArxivID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeArxivID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "3f2b8c1e-9a4d-4e7a-b1c2-0d9e8f7a6b5c", false},
		{"short", "sess-1", false},
		{"underscore", "abc_DEF_123", false},
		{"empty", "", true},
		{"slash", "sess/1", true},
		{"traversal", "..", true},
		{"leading hyphen", "-sess", true},
		{"too long", string(make([]byte, 129)), true},
		{"space", "sess 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSessionIDs(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"all valid", []string{"sess-1", "sess-2"}, false},
		{"one invalid", []string{"sess-1", "bad/id"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionIDs(tt.ids)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionIDs(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
		})
	}
}
