package jsonpath

import (
	"errors"
	"testing"
)

const healthDoc = `{
	"system": {
		"status": "ok",
		"uptime": 3600,
		"nodes": [
			{"name": "a", "ready": true},
			{"name": "b", "ready": false}
		]
	},
	"version": "1.4.2",
	"empty": "",
	"zero": 0,
	"disabled": false,
	"metadata": null,
	"tags": []
}`

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"simple property", "$.version", "1.4.2", false},
		{"gjson syntax", "system.status", "ok", false},
		{"numeric", "$.system.uptime", "3600", false},
		{"array element", "$.system.nodes[1].name", "b", false},
		{"bracket notation", "$['version']", "1.4.2", false},
		{"null value", "$.metadata", "", false},
		{"missing", "$.system.region", "", true},
		{"index out of range", "$.system.nodes[5]", "", true},
		{"empty path", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup([]byte(healthDoc), tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.String() != tt.want {
				t.Errorf("Lookup() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestLookup_InvalidJSON(t *testing.T) {
	for _, doc := range []string{"", "not json", `{"system":`} {
		if _, err := Lookup([]byte(doc), "system"); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("Lookup(%q) error = %v, want ErrInvalidJSON", doc, err)
		}
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"system", true},
		{"$.system", true},
		{"$.system.nodes[0].ready", true},
		{"$.system.nodes[1].ready", false},
		{"$.version", true},
		{"$.empty", false},
		{"$.zero", false},
		{"$.system.uptime", true},
		{"$.disabled", false},
		{"$.metadata", false},
		{"$.tags", true},
		{"$.missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Truthy([]byte(healthDoc), tt.path)
			if err != nil {
				t.Fatalf("Truthy() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Truthy(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if _, err := Truthy([]byte("<html>"), "system"); err == nil {
		t.Error("Truthy() on a non-JSON body returned no error")
	}
}

func TestToGJSON(t *testing.T) {
	tests := []struct {
		jsonPath  string
		gjsonPath string
	}{
		{"system", "system"},
		{"$.name", "name"},
		{"$['name']", "name"},
		{"$[\"name\"]", "name"},
		{"$.user.name", "user.name"},
		{"$.items[0]", "items.0"},
		{"$.items[0].name", "items.0.name"},
		{"$.deeply.nested[0].array[1].value", "deeply.nested.0.array.1.value"},
		{"$", "@this"},
		{"$[0]", "0"},
		{"$[0].name", "0.name"},
	}

	for _, tt := range tests {
		t.Run(tt.jsonPath, func(t *testing.T) {
			if got := ToGJSON(tt.jsonPath); got != tt.gjsonPath {
				t.Errorf("ToGJSON(%q) = %q, want %q", tt.jsonPath, got, tt.gjsonPath)
			}
		})
	}
}
