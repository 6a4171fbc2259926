// Package gitignore provides gitignore pattern matching functionality.
//
// It implements the gitignore pattern syntax as documented at:
// https://git-scm.com/docs/gitignore
//
// Features:
//   - Basic pattern matching (*.log, temp/)
//   - Wildcard patterns (*, ?, **)
//   - Rooted patterns (/build)
//   - Negation patterns (!important.log)
//   - Directory-only patterns (build/)
//   - Nested gitignore file support
//   - Thread-safe matching
//
// codescope uses this package two ways. During a full scan, a *Matcher built
// from config.PathsConfig.Exclude plus the repository's .gitignore files
// decides which paths to index at all:
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	m.AddPattern("/build/")
//
//	if m.Match("error.log", false) {
//	    // file is excluded from indexing
//	}
//
// For nested gitignore files:
//
//	m.AddFromFile("/path/to/project/.gitignore", "")
//	m.AddFromFile("/path/to/project/src/.gitignore", "src")
//
// When the watcher reports an OpGitignoreChange or OpConfigChange event,
// there's no single path to re-filter — the ignore rules themselves changed,
// so every already-indexed file needs re-testing. ParsePatterns and
// MatchesAnyPattern exist for that narrower, stateless check:
// indexer.Worker.ReconcileIgnoreChange calls ParsePatterns on the current
// .gitignore content, then MatchesAnyPattern per live file path, soft-deleting
// whatever newly matches rather than rebuilding a *Matcher per path.
package gitignore
