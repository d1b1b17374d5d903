package chat

import (
	"fmt"
	"testing"
)

func TestPresence(t *testing.T) {
	t.Run("snapshot then disconnect", func(t *testing.T) {
		p := NewPresence(nil)
		p.replace([]string{"A", "B"})
		p.remove("A")

		if got := fmt.Sprint(p.Online()); got != "[B]" {
			t.Fatalf("online = %s, want [B]", got)
		}
		if p.IsOnline("A") || !p.IsOnline("B") {
			t.Fatal("membership mismatch")
		}
	})

	t.Run("snapshot is authoritative", func(t *testing.T) {
		p := NewPresence(nil)
		p.add("Z")
		p.replace([]string{"B", "A", ""})
		if got := fmt.Sprint(p.Online()); got != "[A B]" {
			t.Fatalf("online = %s", got)
		}
	})

	t.Run("activity labels", func(t *testing.T) {
		p := NewPresence(nil)
		p.add("A")
		p.setActivity("A", "Listening to Blue in Green")
		if p.Activity("A") != "Listening to Blue in Green" {
			t.Fatalf("activity = %q", p.Activity("A"))
		}

		snap := p.Snapshot()
		snap.Activity["A"] = "mutated"
		if p.Activity("A") == "mutated" {
			t.Fatal("snapshot must be a copy")
		}

		p.setActivity("A", "")
		if p.Activity("A") != "" {
			t.Fatal("empty activity should clear")
		}

		p.setActivity("A", "Listening")
		p.remove("A")
		if p.Activity("A") != "" {
			t.Fatal("disconnect should clear activity")
		}
	})

	t.Run("reset", func(t *testing.T) {
		p := NewPresence(nil)
		p.replace([]string{"A"})
		p.setActivity("A", "x")
		p.reset()
		if len(p.Online()) != 0 || p.Activity("A") != "" {
			t.Fatalf("state after reset = %+v", p.Snapshot())
		}
	})
}

func TestIDSet(t *testing.T) {
	s := NewIDSet("b", "a", "", "b")
	if len(s) != 2 {
		t.Fatalf("len = %d", len(s))
	}
	if !s.Has("a") || s.Has("") {
		t.Fatal("membership mismatch")
	}
	s.Remove("a")
	s.Add("c")
	if got := fmt.Sprint(s.Sorted()); got != "[b c]" {
		t.Fatalf("sorted = %s", got)
	}

	users := UserIDs([]User{{ID: "u1"}, {ID: "u2"}})
	if !users.Has("u1") || !users.Has("u2") {
		t.Fatal("UserIDs mismatch")
	}
}
