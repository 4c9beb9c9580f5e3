package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestSubjectFromToken(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"string userId", jwt.MapClaims{"userId": "u-1"}, "u-1"},
		{"numeric userId", jwt.MapClaims{"userId": 42}, "42"},
		{"sub fallback", jwt.MapClaims{"sub": "u-9"}, "u-9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SubjectFromToken("Bearer " + sign(t, tc.claims))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSubjectFromTokenErrors(t *testing.T) {
	if _, err := SubjectFromToken("garbage"); err == nil {
		t.Fatal("want parse error")
	}
	_, err := SubjectFromToken(sign(t, jwt.MapClaims{"iss": "x"}))
	if !errors.Is(err, ErrNoSubject) {
		t.Fatalf("err = %v, want ErrNoSubject", err)
	}
}

func TestUserIDFromToken(t *testing.T) {
	id, err := UserIDFromToken(sign(t, jwt.MapClaims{"userId": 7}))
	if err != nil || id != 7 {
		t.Fatalf("got (%d, %v), want 7", id, err)
	}
	if _, err := UserIDFromToken(sign(t, jwt.MapClaims{"sub": "alice"})); err == nil {
		t.Fatal("non-numeric subject must fail")
	}
}
