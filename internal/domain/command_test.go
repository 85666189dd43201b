package domain

import (
	"errors"
	"testing"
)

func TestParsePage(t *testing.T) {
	tests := []struct {
		in      string
		want    PageID
		wantErr bool
	}{
		{"index", PageIndex, false},
		{"ai_doctor", PageAIDoctor, false},
		{"about", PageAbout, false},
		{"foo", "", true},
		{"", "", true},
		{"Herbs", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePage(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("got %q, %v; want ErrNotFound", got, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}
