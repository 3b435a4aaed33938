package user

import "testing"

func TestDefaultUsername(t *testing.T) {
	got := DefaultUsername("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	if got != "user_7xkxtg2c" {
		t.Fatalf("unexpected username %q", got)
	}
	if err := (User{WalletAddress: "w", Username: got}).Validate(); err != nil {
		t.Fatalf("default username should validate: %v", err)
	}
	if got := DefaultUsername("abc"); got != "user_abc" {
		t.Fatalf("short wallet: %q", got)
	}
}

func TestValidate(t *testing.T) {
	if err := (User{Username: "alice"}).Validate(); err != ErrWalletRequired {
		t.Fatalf("expected wallet error, got %v", err)
	}
	for _, name := range []string{"al", "Alice", "alice smith", "a-b-c"} {
		if err := (User{WalletAddress: "w", Username: name}).Validate(); err != ErrInvalidUsername {
			t.Fatalf("%q: expected invalid username, got %v", name, err)
		}
	}
}
