// Package agent contains the conversational gateway responsible for
// translating natural-language intents into executable on-chain actions.
// It coordinates the reasoning engine, the token operations layer and the
// strategy pipeline, and keeps a persistent chat memory.
package agent
