package session

import "testing"

func TestRegistryUpsertAndFind(t *testing.T) {
	r := NewRegistry()
	a := &Session{AccountID: "a", DisplayHandle: "+8411111"}
	b := &Session{AccountID: "b", DisplayHandle: "+8422222"}
	r.Upsert(a)
	r.Upsert(b)

	if got := r.Find("a"); got != a {
		t.Fatalf("Find(a) = %v, want %v", got, a)
	}
	if got := r.Find("missing"); got != nil {
		t.Fatalf("Find(missing) = %v, want nil", got)
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestRegistryUpsertReplacesKeepingOrder(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&Session{AccountID: "a"})
	r.Upsert(&Session{AccountID: "b"})
	r.Upsert(&Session{AccountID: "c"})

	replacement := &Session{AccountID: "b", DisplayName: "new"}
	r.Upsert(replacement)

	if got := r.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if got := r.Find("b"); got != replacement {
		t.Fatalf("Find(b) did not return replacement")
	}
	list := r.List()
	order := []string{"a", "b", "c"}
	for i, want := range order {
		if list[i].AccountID != want {
			t.Fatalf("List()[%d] = %s, want %s", i, list[i].AccountID, want)
		}
	}
}

func TestRegistryFindByHandle(t *testing.T) {
	r := NewRegistry()
	a := &Session{AccountID: "a", DisplayHandle: "+8411111"}
	r.Upsert(a)

	if got := r.FindByHandle("+8411111"); got != a {
		t.Fatalf("FindByHandle = %v, want %v", got, a)
	}
	if got := r.FindByHandle("+8499999"); got != nil {
		t.Fatalf("FindByHandle(unknown) = %v, want nil", got)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&Session{AccountID: "a"})
	r.Upsert(&Session{AccountID: "b"})

	r.Remove("a")
	r.Remove("a") // second remove is a no-op

	if got := r.Find("a"); got != nil {
		t.Fatalf("Find(a) after remove = %v, want nil", got)
	}
	list := r.List()
	if len(list) != 1 || list[0].AccountID != "b" {
		t.Fatalf("List() after remove = %v", list)
	}
}
