package service

import "strings"

// License is the verdict on a license key.
type License struct {
	Valid        bool
	IsFriendCode bool
	Message      string
}

type LicenseValidator interface {
	Validate(key string) License
}

// KeySetValidator accepts keys from fixed lists. Matching ignores case and
// surrounding whitespace.
type KeySetValidator struct {
	keys        map[string]bool
	friendCodes map[string]bool
}

func NewKeySetValidator(keys, friendCodes []string) *KeySetValidator {
	return &KeySetValidator{keys: keySet(keys), friendCodes: keySet(friendCodes)}
}

func (v *KeySetValidator) Validate(key string) License {
	k := normalizeKey(key)
	switch {
	case k == "":
		return License{Message: "enter a license key"}
	case v.friendCodes[k]:
		return License{Valid: true, IsFriendCode: true, Message: "friend code accepted"}
	case v.keys[k]:
		return License{Valid: true, Message: "license key accepted"}
	}
	return License{Message: "license key not recognized"}
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k = normalizeKey(k); k != "" {
			set[k] = true
		}
	}
	return set
}

func normalizeKey(k string) string {
	return strings.ToUpper(strings.TrimSpace(k))
}
