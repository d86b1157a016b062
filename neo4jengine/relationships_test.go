package neo4jengine

import "testing"

func TestEdgeType(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "contains", want: "`contains`"},
		{name: "is part of", want: "`is part of`"},
		{name: "feeds-into", want: "`feeds-into`"},
		{name: "", wantErr: true},
		{name: "evil`type", wantErr: true},
	}
	for _, tt := range tests {
		got, err := edgeType(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("edgeType(%q) accepted the name", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("edgeType(%q) %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("edgeType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIndexName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "contains", want: "rel_contains_id"},
		{name: "is part of", want: "rel_is_part_of_id"},
		{name: "feeds-into", want: "rel_feeds_into_id"},
		{name: "contains_2", want: "rel_contains_2_id"},
	}
	for _, tt := range tests {
		if got := indexName(tt.name); got != tt.want {
			t.Errorf("indexName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
