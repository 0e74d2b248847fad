// Package session assembles a complete interpreter from configuration.
//
// A Session owns the Lua runtime, the child process supervisor, the
// command registry with the built-in commands installed, the dispatcher
// that ties them together, and the history store. Embeddings such as the
// magicline CLI talk only to a Session:
//
//	s, err := session.New(ctx, cfg, session.WithOutput(os.Stdout, os.Stderr))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if _, err := s.Run(ctx, "%echo hello\nprint(1 + 1)"); err != nil {
//	    fmt.Fprintln(os.Stderr, err)
//	}
//
// In execute mode Run interprets the block line by line. In rewrite mode
// it rewrites the block into plain Lua first and runs the result as one
// chunk; Transpile returns that rewritten source without running it.
package session
