// Package dispatcher interprets blocks of source text containing magic
// command lines.
//
// A block is scanned line by line. Lines accepted by a registered matcher
// are magic lines and go to the matching command handlers; all other lines
// are ordinary code and are buffered for the executor.
//
// # Modes
//
// The dispatcher has two operating modes, selected by Config.Mode:
//
//   - Execute mode (Execute) folds results live. Buffered code is flushed
//     through the executor right before each magic line and at the end of
//     the block, and handler results are folded into a pending result.
//
//   - Rewrite mode (Rewrite) produces a script. Each magic line is replaced
//     by the code fragment its handler returns, code lines pass through
//     unchanged, and the line count is preserved.
//
// # Sequencing
//
// Handlers may return a deferred result (handler.Defer, handler.Await), as
// the exec command does while its child process runs. In execute mode the
// remainder of the block is chained onto any deferred result with
// handler.Result.Then, so:
//
//  1. Code flushes and handler invocations happen in source order.
//  2. A line is looked up only after every earlier line has settled, so
//     commands registered by earlier lines (even deferred ones) are visible.
//  3. The first error, synchronous or deferred, aborts the rest of the block.
//
// # Errors
//
// A line whose first token starts with "%" or "%%" but matches no command
// yields an UnknownMagicError and aborts the block. Handler failures are
// wrapped in HandlerError and executor failures in CodeError; both unwrap
// to the underlying cause.
//
// # Handlers
//
// Descriptors carry one of two handler variants:
//
//	handler.Direct{Fn: func(args []string, ctx *execctx.ExecutionContext) handler.Result}
//	handler.Named{Target: "luaFunction"}
//
// Direct handlers receive the line's tokens (placeholders already resolved
// in execute mode, raw in rewrite mode). Named handlers become a call
// expression passing every token, command token included, as a string.
package dispatcher
