package addr

import "testing"

func TestChildIDAndCurrent(t *testing.T) {
	a := Root().ChildID(5).ChildID(7)
	if a.Current() != 5 {
		t.Fatalf("Current() = %d, want 5 (oldest element first)", a.Current())
	}
	a = a.Advance()
	if a.Current() != 7 {
		t.Fatalf("after Advance, Current() = %d, want 7", a.Current())
	}
	a = a.Advance()
	if !a.IsEmpty() {
		t.Fatalf("expected address to be empty after consuming all elements")
	}
}

func TestAdvancePastEmptyIsNoop(t *testing.T) {
	a := Root()
	a = a.Advance()
	if !a.IsEmpty() {
		t.Fatalf("advancing an empty address should stay empty")
	}
}

func TestPinAndEventPortStrings(t *testing.T) {
	a := Root().ChildID(3)
	if got, want := a.WithPin(2).String(), "03!2"; got != want {
		t.Errorf("Pin.String() = %q, want %q", got, want)
	}
	if got, want := a.WithEventPort(0).String(), "03:0"; got != want {
		t.Errorf("EventPort.String() = %q, want %q", got, want)
	}
}

func TestRootAddressIsEmpty(t *testing.T) {
	if !Root().IsEmpty() {
		t.Fatal("Root() should be empty")
	}
	if got, want := Root().String(), "_"; got != want {
		t.Errorf("Root().String() = %q, want %q", got, want)
	}
}
