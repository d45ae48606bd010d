package service_test

import (
	"reflect"
	"testing"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/service"
)

func TestSplitMentions(t *testing.T) {
	got := service.SplitMentions("Oi @[Bruno Souza](u-2), fale com @carla. Mail: x@y.com")
	want := []service.Segment{
		{Text: "Oi "},
		{Text: "@Bruno Souza", Mention: true, UserID: "u-2"},
		{Text: ", fale com "},
		{Text: "@carla", Mention: true, Handle: "carla"},
		{Text: ". Mail: x@y.com"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("segments mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestSplitMentions_TrailingDotsStayInText(t *testing.T) {
	tests := []struct {
		body string
		want []service.Segment
	}{
		{"@ana.", []service.Segment{
			{Text: "@ana", Mention: true, Handle: "ana"},
			{Text: "."},
		}},
		{"cc @ana.lima...", []service.Segment{
			{Text: "cc "},
			{Text: "@ana.lima", Mention: true, Handle: "ana.lima"},
			{Text: "..."},
		}},
	}
	for _, tt := range tests {
		got := service.SplitMentions(tt.body)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%q:\n got  %+v\n want %+v", tt.body, got, tt.want)
		}
		var joined string
		for _, seg := range got {
			joined += seg.Text
		}
		if joined != tt.body {
			t.Errorf("%q: segments do not cover the body, got %q", tt.body, joined)
		}
	}
}

func TestSplitMentions_PlainText(t *testing.T) {
	got := service.SplitMentions("sem menções")
	if len(got) != 1 || got[0].Mention {
		t.Errorf("expected a single text segment, got %+v", got)
	}
	if len(service.SplitMentions("")) != 0 {
		t.Error("expected no segments for empty body")
	}
}

func TestMentionedUserIDs(t *testing.T) {
	users := []domain.User{
		{ID: "u-1", Name: "Ana Lima", Email: "ana@x.com"},
		{ID: "u-2", Name: "Bruno Souza", Email: "bsouza@x.com"},
	}
	tests := []struct {
		name    string
		body    string
		exclude string
		want    []string
	}{
		{"email handle", "@bsouza veja", "", []string{"u-2"}},
		{"compact name", "@AnaLima veja", "", []string{"u-1"}},
		{"markup", "@[Ana](u-1)", "", []string{"u-1"}},
		{"unknown markup id", "@[Zé](u-9)", "", nil},
		{"unknown handle", "@ninguem", "", nil},
		{"author excluded", "@ana @bsouza", "u-1", []string{"u-2"}},
		{"deduplicated", "@ana @[Ana](u-1) @ana", "", []string{"u-1"}},
		{"email is not a mention", "ana@x.com", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := service.MentionedUserIDs(tt.body, users, tt.exclude)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
