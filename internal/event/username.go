package event

import "strings"

// UsernameKind tags the variant carried by Usernames. Synthetic categories
// (everything but Normal) have no backing login name; they render as a
// fixed "@..." token.
type UsernameKind int

const (
	UsernameNormal UsernameKind = iota
	UsernameSystem
	UsernameBits
	UsernameSubscriber
	UsernameGiftSub
	UsernameRaid
	UsernameHost
	UsernameModeration
)

// Usernames is the tagged union carried by SimpleMessage.Username: either a
// real, normalized login (Normal) or one of the synthetic categories used
// for system-generated chat lines.
type Usernames struct {
	Kind UsernameKind
	// Name is only meaningful when Kind == UsernameNormal.
	Name string
}

// NormalUsername builds a Usernames of kind Normal holding name as given.
// It does not trim or lower-case; Normalize does that.
func NormalUsername(name string) Usernames {
	return Usernames{Kind: UsernameNormal, Name: name}
}

var syntheticRenders = map[UsernameKind]string{
	UsernameSystem:     "@system",
	UsernameBits:       "@bits",
	UsernameSubscriber: "@subscriber",
	UsernameGiftSub:    "@giftsub",
	UsernameRaid:       "@raid",
	UsernameHost:       "@host",
	UsernameModeration: "@moderation",
}

// Render returns the display form: the normalized login for Normal, or the
// fixed synthetic token otherwise.
func (u Usernames) Render() string {
	if u.Kind == UsernameNormal {
		return u.Name
	}
	if s, ok := syntheticRenders[u.Kind]; ok {
		return s
	}
	return "@unknown"
}

// normalizeLogin applies the ORL/Twitch username normalization rule: trim
// then ASCII lower-case.
func normalizeLogin(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
