package domain

import (
	"strings"
)

// Transport markers some providers prepend to addresses that share one
// namespace across channels.
const (
	MarkerWhatsApp  = "whatsapp:"
	MarkerMessenger = "messenger:"
)

// AddressKind says which contact field an address resolves against.
type AddressKind string

const (
	AddressPhone  AddressKind = "phone"
	AddressEmail  AddressKind = "email"
	AddressHandle AddressKind = "handle"
)

// Address is a normalized contact address.
type Address struct {
	Kind  AddressKind
	Value string
}

// InferChannel derives the channel from an address marker. Unmarked
// addresses on a multiplexed transport are SMS.
func InferChannel(raw string) Channel {
	switch {
	case hasMarker(raw, MarkerWhatsApp):
		return ChannelWhatsApp
	case hasMarker(raw, MarkerMessenger):
		return ChannelFacebook
	}
	return ChannelSMS
}

// StripMarker removes a leading transport marker, if any.
func StripMarker(raw string) string {
	s := strings.TrimSpace(raw)
	for _, m := range []string{MarkerWhatsApp, MarkerMessenger} {
		if hasMarker(s, m) {
			return strings.TrimSpace(s[len(m):])
		}
	}
	return s
}

// NormalizeAddress turns a raw provider address into the form contacts are
// keyed on. Phone numbers keep their international prefix and lose
// formatting, emails are lower-cased, social ids become handles.
func NormalizeAddress(raw string, ch Channel) (Address, error) {
	s := StripMarker(raw)
	if s == "" {
		return Address{}, &ValidationError{Field: "address", Reason: "empty address"}
	}

	switch {
	case ch == ChannelTwitter || ch == ChannelFacebook:
		return Address{Kind: AddressHandle, Value: strings.ToLower(strings.TrimPrefix(s, "@"))}, nil
	case ch == ChannelEmail || strings.Contains(s, "@"):
		return Address{Kind: AddressEmail, Value: strings.ToLower(s)}, nil
	}

	if phone, ok := normalizePhone(s); ok {
		return Address{Kind: AddressPhone, Value: phone}, nil
	}
	return Address{Kind: AddressHandle, Value: strings.ToLower(s)}, nil
}

// normalizePhone strips spacing and punctuation. It reports false when s
// contains anything other than digits, an optional leading '+', and common
// separators.
func normalizePhone(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}
	if digits == 0 {
		return "", false
	}
	return b.String(), true
}

func hasMarker(s, marker string) bool {
	return len(s) >= len(marker) && strings.EqualFold(s[:len(marker)], marker)
}
