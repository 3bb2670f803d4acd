package config

import (
	"reflect"
	"testing"
)

func TestSpeakerCatalog(t *testing.T) {
	tests := []struct {
		name     string
		speakers string
		want     []string
	}{
		{name: "unset", speakers: "", want: nil},
		{name: "single", speakers: "serena", want: []string{"serena"}},
		{name: "list", speakers: "serena,ryan,vivian", want: []string{"serena", "ryan", "vivian"}},
		{name: "padded", speakers: " serena , ryan ", want: []string{"serena", "ryan"}},
		{name: "stray commas", speakers: ",serena,,", want: []string{"serena"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Speakers: tt.speakers}
			if got := c.SpeakerCatalog(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SpeakerCatalog() = %v, want %v", got, tt.want)
			}
		})
	}
}
