package internal

import "testing"

func FuzzDecodeToken(f *testing.F) {
	f.Add("")
	f.Add("!!!not-base64!!!")
	f.Add("dG9vLXNob3J0")
	if id, err := NewID(); err == nil {
		if secret, err := NewSecret(); err == nil {
			if token, err := EncodeToken(id.String(), secret); err == nil {
				f.Add(token)
			}
		}
	}

	f.Fuzz(func(t *testing.T, input string) {
		id, secret, err := DecodeToken(input)
		if err != nil {
			return
		}
		again, err := EncodeToken(id, secret)
		if err != nil {
			t.Fatalf("decoded token does not re-encode: %v", err)
		}
		id2, secret2, err := DecodeToken(again)
		if err != nil || id2 != id || secret2 != secret {
			t.Fatalf("re-encoded token does not round-trip: %v", err)
		}
	})
}
