// Package chat contains the Twitch chat listener that feeds the command queue.
//
// The listener connects to Twitch IRC for TWITCH_CHANNEL, parses every chat
// message into a command, and hands it to the queue ingestor, which applies the
// dedup and approval rules. Parse failures are counted and logged at debug;
// nothing is ever echoed back to chat.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read scope. If TWITCH_OAUTH_TOKEN is not provided, the listener reuses
// the stored token for provider "twitch" on every (re)connect, so a token
// renewed by the background refresher is picked up without a restart.
package chat
