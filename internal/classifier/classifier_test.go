
package classifier

import (
	"reflect"
	"testing"
)

func TestOffers(t *testing.T) {
	cl := New()
	cases := []struct {
		text  string
		label string
		want  bool
	}{
		{"Summer Term, Semester 1", "Semester 1", true},
		{"semester  1 - On Campus", "Semester 1", true},
		{"Semester_1", "Semester 1", true},
		{"Semester 2", "Semester 1", false},
		{"Semester 10", "Semester 1", false},
		{"", "Semester 1", false},
		{"Semester 1", "", false},
	}
	for _, c := range cases {
		if got := cl.Offers(c.text, c.label); got != c.want {
			t.Fatalf("Offers(%q, %q) = %v, want %v", c.text, c.label, got, c.want)
		}
	}
}

func TestPeriods(t *testing.T) {
	cl := New()
	got := cl.Periods("Summer Term - Online\nSemester 2 - On Campus\nYear Long")
	want := []string{"Summer Term", "Semester 2", "Year Long"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}
