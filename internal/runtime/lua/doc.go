// Package lua hosts the Lua runtime behind the interpreter.
//
// A Runtime plays every host-language role the dispatcher needs:
//
//   - Executor: Execute runs buffered code lines as one chunk.
//   - Evaluator: Evaluate resolves {expr} placeholders with tostring.
//   - Codegen: the embedded Codegen writes Lua fragments for rewrite mode.
//   - Module resolver: LoadInstructions reads .lua command modules.
//
// # State
//
// State serializes access to a gopher-lua LState with a mutex and attaches
// the caller's context to every call, so cancellation and the optional
// per-call timeout stop running Lua code. print writes to the configured
// output writer.
//
// # Host module
//
// Rewritten code calls back into Go through the global magic table:
//
//	magic.exec("(magicline exec)", "ls", "-la")
//	magic.require("lib.lua")
//	magic.add("%hi", function(cmd, ...) print(...) end)
//	magic.echo("done")
//	magic.error("UsageError: Line magic function '%nope' not found.")
//
// # Completeness
//
// IsComplete parses source with gopher-lua's parser and reports whether
// more input is needed, for interactive continuation prompts.
package lua
