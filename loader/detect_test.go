package loader

import (
	"testing"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		path    string
		want    FileKind
		wantErr bool
	}{
		{"rules json", `{"rules": []}`, "r.json", FileKindRules, false},
		{"snapshot json", `{"root": {"id": 1}}`, "s.json", FileKindSnapshot, false},
		{"rules yaml", "rules:\n  - name: a\n", "r.yaml", FileKindRules, false},
		{"snapshot yml", "root:\n  id: 1\n", "s.yml", FileKindSnapshot, false},
		{"explicit kind wins", `{"kind": "snapshot", "rules": []}`, "x.json", FileKindSnapshot, false},
		{"unknown kind", `{"kind": "graph"}`, "x.json", "", true},
		{"no markers", `{"nodes": []}`, "x.json", "", true},
		{"bad json", `{`, "x.json", "", true},
		{"bad yaml", "rules: [", "x.yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectKind([]byte(tt.data), tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectKind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsYAML(t *testing.T) {
	for path, want := range map[string]bool{
		"a.yaml": true,
		"a.YML":  true,
		"a.json": false,
		"a":      false,
	} {
		if got := isYAML(path); got != want {
			t.Errorf("isYAML(%q) = %v, want %v", path, got, want)
		}
	}
}
