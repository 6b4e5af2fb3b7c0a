package event

import "fmt"

// RawMessageGroup is the one-to-many projection of a single source event
// onto zero or more RawMessages: a Twitch bits cheer yields both the chat
// line and a donation line, a sub/raid UserNotice yields both a contextual
// line and Twitch's own system_message line. Most event kinds produce
// exactly one element; roster-only frames (DGG Names/Join/Quit, unknown
// Twitch commands) produce none.
type RawMessageGroup []RawMessage

// ToRawMessage projects an AllEvents onto the RawMessages it represents,
// ready for normalization. Events that carry no message content (DGG
// Names/Join/Quit rosters) return an empty group; callers drop them,
// mirroring "unknown kinds are dropped" for the Twitch side of the
// pipeline.
func ToRawMessage(e AllEvents) RawMessageGroup {
	switch e.Kind {
	case SourceTwitch:
		return twitchToRaw(e.Twitch)
	case SourceDgg:
		return dggToRaw(e.Dgg)
	default:
		return nil
	}
}

var tierNames = map[SubPlan]string{
	SubPlanPrime: "Prime",
	SubPlanTier1: "Tier 1",
	SubPlanTier2: "Tier 2",
	SubPlanTier3: "Tier 3",
}

func tierName(plan SubPlan) string {
	if name, ok := tierNames[plan]; ok {
		return name
	}
	return string(plan)
}

func senderName(t TwitchEvent) string {
	if t.Sender.DisplayName != "" {
		return t.Sender.DisplayName
	}
	return t.Sender.Login
}

func recipientName(t TwitchEvent) string {
	if t.RecipientName != "" {
		return t.RecipientName
	}
	return t.RecipientLogin
}

func gifterName(t TwitchEvent) string {
	if t.GifterName != "" {
		return t.GifterName
	}
	return t.GifterLogin
}

func twitchToRaw(t TwitchEvent) RawMessageGroup {
	switch t.Kind {
	case TwitchPrivmsg:
		return privmsgToRaw(t)
	case TwitchUserNotice:
		return userNoticeToRaw(t)
	case TwitchClearChat:
		desc := fmt.Sprintf("%s timed out for %ds", t.TargetLogin, t.BanDurationSec)
		if t.BanDurationSec == 0 {
			desc = fmt.Sprintf("%s banned", t.TargetLogin)
		}
		return RawMessageGroup{{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameModeration},
			Text:      desc,
			Timestamp: t.Timestamp,
		}}
	case TwitchHostTarget:
		return RawMessageGroup{{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameHost},
			Text:      fmt.Sprintf("now hosting %s for %d viewers", t.HostedChannel, t.HostViewers),
			Timestamp: t.Timestamp,
		}}
	default:
		return nil
	}
}

// privmsgToRaw always emits the chat line, plus a Bits donation line when
// the message carried a cheer. Ported from the original's
// From<PrivmsgMessage> for SimpleMessageGroup.
func privmsgToRaw(t TwitchEvent) RawMessageGroup {
	group := RawMessageGroup{{
		Channel:   t.ChannelName,
		Username:  NormalUsername(t.Sender.Login),
		Text:      t.Text,
		Timestamp: t.Timestamp,
	}}
	if t.Bits > 0 {
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameBits},
			Text:      fmt.Sprintf("%s donated %d bits to the channel!", senderName(t), t.Bits),
			Timestamp: t.Timestamp,
		})
	}
	return group
}

// userNoticeToRaw emits one contextual message for the notice kind (none
// for ritual/bitsbadgetier), then always appends Twitch's own
// system_message as a trailing System line. Ported from the original's
// From<UserNoticeMessage> for SimpleMessageGroup.
func userNoticeToRaw(t TwitchEvent) RawMessageGroup {
	var group RawMessageGroup

	switch t.NoticeMsgID {
	case "sub", "resub":
		verb := "subscribed"
		if t.IsResub {
			verb = "resubscribed"
		}
		preposition := "at"
		if t.SubPlan == SubPlanPrime {
			preposition = "with"
		}
		text := fmt.Sprintf("%s just %s %s %s for %d months!", senderName(t), verb, preposition, tierName(t.SubPlan), t.CumulativeMonths)
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameSubscriber},
			Text:      text,
			Timestamp: t.Timestamp,
		})
	case "subgift":
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameSubscriber},
			Text:      fmt.Sprintf("%s gifted a %s sub to %s!", senderName(t), tierName(t.SubPlan), recipientName(t)),
			Timestamp: t.Timestamp,
		})
	case "submysterygift", "anonsubmysterygift":
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameGiftSub},
			Text:      fmt.Sprintf("%s gifted %d %s subs to the community!", senderName(t), t.MassGiftCount, tierName(t.SubPlan)),
			Timestamp: t.Timestamp,
		})
	case "raid":
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameRaid},
			Text:      fmt.Sprintf("%s just raided the channel with %d viewers!", senderName(t), t.RaidViewerCount),
			Timestamp: t.Timestamp,
		})
	case "giftpaidupgrade":
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameSubscriber},
			Text:      fmt.Sprintf("%s is continuing their gifted sub from %s", senderName(t), gifterName(t)),
			Timestamp: t.Timestamp,
		})
	case "anongiftpaidupgrade":
		group = append(group, RawMessage{
			Channel:   t.ChannelName,
			Username:  Usernames{Kind: UsernameSubscriber},
			Text:      fmt.Sprintf("%s is continuing their anonymous gifted sub!", senderName(t)),
			Timestamp: t.Timestamp,
		})
	case "ritual", "bitsbadgetier":
		// No contextual message; the system line below is the whole story.
	}

	return append(group, RawMessage{
		Channel:   t.ChannelName,
		Username:  Usernames{Kind: UsernameSystem},
		Text:      t.SystemMsg,
		Timestamp: t.Timestamp,
	})
}

func dggToRaw(d DggEvent) RawMessageGroup {
	switch d.Kind {
	case DggMessage:
		return RawMessageGroup{{
			Channel:   d.Channel,
			Username:  NormalUsername(d.Nick),
			Text:      d.Text,
			Timestamp: d.Timestamp,
		}}
	case DggBroadcast:
		return RawMessageGroup{{
			Channel:   d.Channel,
			Username:  Usernames{Kind: UsernameSystem},
			Text:      d.Text,
			Timestamp: d.Timestamp,
		}}
	case DggModeration:
		return RawMessageGroup{{
			Channel:   d.Channel,
			Username:  Usernames{Kind: UsernameModeration},
			Text:      fmt.Sprintf("%s %s by %s", dggModKindString(d.ModKind), d.Target, d.Sender),
			Timestamp: d.Timestamp,
		}}
	default:
		// Names, Join, Quit carry roster state, not a chat line.
		return nil
	}
}

func dggModKindString(k DggModerationKind) string {
	switch k {
	case DggBan:
		return "ban"
	case DggUnban:
		return "unban"
	case DggMute:
		return "mute"
	case DggUnmute:
		return "unmute"
	default:
		return "unknown"
	}
}
