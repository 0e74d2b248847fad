// Package core provides the built-in magic commands.
//
//   - %echo args...              write the arguments to the output
//   - %addcmd <name> <fn>        register name as a command calling fn
//   - %addmagic <name> <fn>      alias of %addcmd
//   - %load_magic <module>       register every command a module exports
//   - %require <file>            run a Lua file
//   - %lsmagic                   list registered commands
//
// Commands registered with %addcmd call the named Lua function with every
// token of the line as a string argument, the command token first.
//
// Modules loaded by %load_magic export a sequence of "add" instructions.
// Lua modules return a table; TOML, YAML, and JSON modules declare the same
// records and can only name functions, not define them.
package core
