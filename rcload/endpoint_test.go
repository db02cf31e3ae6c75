package rcload

import (
	"reflect"
	"testing"
)

func TestExpandPath(t *testing.T) {
	params := map[string]any{
		"path":  map[string]any{"siteId": "42", "pageId": 7},
		"query": "seo",
	}

	endpoint, stripped, err := expandPath("GET:/sites/{siteId}/pages/{pageId}", params)
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if endpoint != "GET:/sites/42/pages/7" {
		t.Errorf("endpoint = %q", endpoint)
	}
	if !reflect.DeepEqual(stripped, map[string]any{"query": "seo"}) {
		t.Errorf("expected the path sub-map stripped, got %v", stripped)
	}
	if _, still := params["path"]; !still {
		t.Error("input params must not be mutated")
	}
}

func TestExpandPathNoPlaceholders(t *testing.T) {
	params := map[string]any{"query": "seo"}
	endpoint, stripped, err := expandPath("GET:/keywords", params)
	if err != nil {
		t.Fatalf("expandPath: %v", err)
	}
	if endpoint != "GET:/keywords" {
		t.Errorf("endpoint = %q", endpoint)
	}
	if !reflect.DeepEqual(stripped, params) {
		t.Errorf("params = %v", stripped)
	}
}

func TestExpandPathMissingSubMap(t *testing.T) {
	if _, _, err := expandPath("GET:/sites/{id}", map[string]any{"q": 1}); err == nil {
		t.Error("expected error when placeholders have no path sub-map")
	}
}

func TestExpandPathUnresolvedToken(t *testing.T) {
	params := map[string]any{"path": map[string]any{"other": "x"}}
	if _, _, err := expandPath("GET:/sites/{id}", params); err == nil {
		t.Error("expected error for an unresolved placeholder")
	}
}

func TestEndpointsConstructor(t *testing.T) {
	variants := Endpoints("GET:/a", "pages")
	if len(variants) != 2 {
		t.Fatalf("len = %d", len(variants))
	}
	if variants[0].Path != "GET:/a" || variants[1].Path != "pages" {
		t.Errorf("variants = %+v", variants)
	}
	if variants[0].Extra != nil {
		t.Error("expected no extras on plain variants")
	}
}
