// Package enginescript embeds the Lua glue loaded into the engine process
// at startup: the snapshot collector, handle_bs/handle_commit special-key
// entry points invoked via engine.Client.Call, and the framing loop that
// speaks internal/engine's wire protocol directly on the child's stdio.
// wlime never edits this file at runtime; it is baked into the binary
// with go:embed and written to a temp file the engine process is told to
// source on boot via -u.
package enginescript

import _ "embed"

//go:embed init.lua
var initScript []byte

// InitScript returns the glue script's contents.
func InitScript() []byte {
	return initScript
}

// Command builds the argv for the engine child process: headless, no
// swap/shada state, and never --embed — that flag would make nvim claim
// stdio for its own msgpack-rpc channel, and init.lua needs raw stdio for
// internal/engine's framing instead. scriptPath is a temp file holding
// InitScript's contents, written by the caller since go:embed content
// can't be sourced by path directly.
func Command(scriptPath string) []string {
	return []string{
		"nvim",
		"--headless",
		"--clean",
		"-n",
		"-u", scriptPath,
	}
}

// Options groups values known at daemon startup (the commit keybind, the
// completion adapter) that concern the embedded script. Nothing in this
// package applies them: InitScript returns the script unchanged, and the
// script has no placeholders to substitute.
type Options struct {
	// CommitKey is the key notation bound to handle_commit, mirroring
	// keybinds.commit in internal/config.
	CommitKey string
	// CompletionAdapter selects "native" or "cmp" candidate sourcing,
	// mirroring completion.adapter in internal/config.
	CompletionAdapter string
}

// DefaultOptions mirrors internal/config.DefaultConfig's keybind and
// completion defaults, used when the caller doesn't need to override them.
func DefaultOptions() Options {
	return Options{
		CommitKey:         "<C-CR>",
		CompletionAdapter: "native",
	}
}
