package meeting

import (
	"reflect"
	"testing"
)

func TestWithMemberAppendsOnce(t *testing.T) {
	room := Room{ID: "standup", Members: []string{"bob-1", "carol-2"}}

	got := room.WithMember("alice-3")
	want := []string{"bob-1", "carol-2", "alice-3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected members: got %v want %v", got, want)
	}

	room.Members = got
	again := room.WithMember("alice-3")
	if !reflect.DeepEqual(again, want) {
		t.Fatalf("second append should be a no-op, got %v", again)
	}
}

func TestWithMemberDoesNotAliasInput(t *testing.T) {
	members := make([]string, 1, 4)
	members[0] = "bob-1"
	room := Room{Members: members}

	out := room.WithMember("alice-3")
	out[0] = "mallory"

	if room.Members[0] != "bob-1" {
		t.Fatal("WithMember must not mutate the existing membership list")
	}
}
