// Package chat is the Twitch chat feed.
//
// It joins the configured channel over Twitch IRC (go-twitch-irc) and buffers
// PRIVMSG and USERNOTICE messages as normalizer payloads:
//   - PRIVMSG becomes a chat line, or a bits donation when it carries cheers.
//   - USERNOTICE sub, resub, subgift and submysterygift become subscriber
//     events; other notices (raids, announcements) are ignored.
//
// When an app token is configured the feed also polls Helix stream status,
// like an auto recorder would: connecting to an offline channel and a channel
// going offline mid-session both end the session, so the supervisor waits out
// its backoff and tries again.
//
// Credentials: the IRC client requires a bot username and a user OAuth token
// with the chat:read scope. The token is validated before joining when a
// validator is set; a rejected token stops the relay.
package chat
