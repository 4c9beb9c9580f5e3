package mongostore

import "testing"

func TestDatabaseName(t *testing.T) {
	cases := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/chat", "chat"},
		{"mongodb://u:p@localhost:27017/chat?authSource=admin", "chat"},
		{"mongodb://localhost:27017", "imsync"},
		{"mongodb://localhost:27017/", "imsync"},
	}
	for _, tc := range cases {
		got, err := DatabaseName(tc.uri)
		if err != nil {
			t.Fatalf("%s: %v", tc.uri, err)
		}
		if got != tc.want {
			t.Errorf("DatabaseName(%q) = %q, want %q", tc.uri, got, tc.want)
		}
	}
	if _, err := DatabaseName("http://nope"); err == nil {
		t.Fatal("invalid scheme accepted")
	}
}
