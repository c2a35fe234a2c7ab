package ticket

import "testing"

func TestExclusions(t *testing.T) {
	e := NewExclusions([]string{"noreply@vendor.com", "Spam@Example.COM", "@bulk.example.org", " "}, false)

	cases := []struct {
		addr string
		want bool
	}{
		{"noreply@vendor.com", true},
		{"NoReply@Vendor.Com", true},
		{"spam@example.com", true},
		{"alice@example.com", false},
		{"anyone@bulk.example.org", true},
		{"anyone@BULK.example.org", true},
		{"anyone@notbulk.example.org", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := e.Excluded(tc.addr); got != tc.want {
			t.Errorf("Excluded(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestExclusionsSuppressAll(t *testing.T) {
	e := NewExclusions(nil, true)
	if !e.Excluded("alice@example.com") {
		t.Error("suppressAll should exclude every sender")
	}
	if !e.Excluded("") {
		t.Error("suppressAll should exclude even an empty sender")
	}
}
